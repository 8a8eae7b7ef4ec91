// Package retry executes operations with bounded attempts and exponential
// backoff. Mutating work must not go through this package; callers mark
// non-retryable failures with Permanent.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay"`
	// Jitter randomizes each delay within [0.5, 1.5) of its base value.
	Jitter bool `yaml:"jitter"`
}

// Exponential returns a config with doubling delays and jitter.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Jitter:       true,
	}
}

// Single returns a config that makes exactly one attempt.
func Single() Config {
	return Config{MaxAttempts: 1}
}

// Do runs op until it succeeds, returns a permanent error, exhausts
// MaxAttempts, or ctx is done. It returns the last error observed.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return lastErr
}

// DoWithValue runs an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, error) {
	var value T
	err := Do(ctx, config, func() error {
		var opErr error
		value, opErr = op()
		return opErr
	})
	return value, err
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
