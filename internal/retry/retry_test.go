package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	err := Do(context.Background(), Config{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errors.New("validation failed"))
	})
	if !IsPermanent(err) {
		t.Fatal("expected permanent error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", calls)
	}
}

func TestDo_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Single(), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	v, err := DoWithValue(context.Background(), Exponential(3, time.Millisecond, time.Millisecond), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
}

func TestPermanent_NilPassthrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error should not be permanent")
	}
}
