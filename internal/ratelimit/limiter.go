// Package ratelimit provides per-caller admission control at the chat
// boundary. State is keyed strictly by caller identity and never shared
// across callers.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int `yaml:"max_requests"`
	// Window is the length of the fixed window.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 30,
		Window:      time.Minute,
		Enabled:     true,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Remaining  int           `json:"remaining"`
}

type window struct {
	start time.Time
	count int
}

// Limiter applies a fixed window per caller id. It is safe for concurrent
// use; the lock is held only around the in-memory map, never across any
// external call.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	maxKeys int
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
	}
}

// Admit checks whether a request from the given caller should proceed,
// consuming one slot if so. A Denied decision carries the time until the
// window rolls over.
func (l *Limiter) Admit(callerID string) Decision {
	return l.AdmitAt(callerID, time.Now())
}

// AdmitAt is Admit with an explicit clock, for tests.
func (l *Limiter) AdmitAt(callerID string, now time.Time) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true, Remaining: l.config.MaxRequests}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[callerID]
	if !ok || now.Sub(w.start) >= l.config.Window {
		if !ok && len(l.windows) >= l.maxKeys {
			l.pruneLocked(now)
		}
		w = &window{start: now}
		l.windows[callerID] = w
	}

	if w.count >= l.config.MaxRequests {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(l.config.Window).Sub(now),
		}
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.config.MaxRequests - w.count}
}

// SetConfig replaces the limiter thresholds at runtime. Existing windows
// are kept; they are re-evaluated against the new limits on next admit.
func (l *Limiter) SetConfig(config Config) {
	if config.MaxRequests <= 0 || config.Window <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config
}

// Reset clears the window for a caller.
func (l *Limiter) Reset(callerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, callerID)
}

// Prune drops windows that rolled over, returning how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(time.Now())
}

func (l *Limiter) pruneLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.config.Window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
