package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstAttemptSuccess", func(t *testing.T) {
		calls := 0
		retries := 0
		p := Policy{MaxAttempts: 3, OnRetry: func(int) { retries++ }}
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 || retries != 0 {
			t.Errorf("expected 1 call and 0 retries, got %d/%d", calls, retries)
		}
	})

	t.Run("TransientRetriedUntilSuccess", func(t *testing.T) {
		calls := 0
		var attempts []int
		p := Policy{MaxAttempts: 3, OnRetry: func(a int) { attempts = append(attempts, a) }}
		err := p.Do(ctx, func(context.Context) error {
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
			t.Errorf("expected 3 calls, got %d", calls)
		}
		if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
			t.Errorf("unexpected retry attempts: %v", attempts)
		}
	})

	t.Run("FatalShortCircuits", func(t *testing.T) {
		fatal := errors.New("fatal")
		calls := 0
		p := Policy{
			MaxAttempts: 5,
			IsFatal:     func(err error) bool { return errors.Is(err, fatal) },
		}
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return fatal
		})
		if !errors.Is(err, fatal) {
			t.Fatalf("expected the fatal error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("fatal errors must not be retried, got %d calls", calls)
		}
	})

	t.Run("BudgetExhaustedReturnsLastError", func(t *testing.T) {
		calls := 0
		p := Policy{MaxAttempts: 3}
		err := p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("still failing")
		})
		if err == nil || err.Error() != "still failing" {
			t.Fatalf("expected last error, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("ZeroValueAttemptsOnce", func(t *testing.T) {
		calls := 0
		err := Policy{}.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("nope")
		})
		if err == nil || calls != 1 {
			t.Errorf("zero value should attempt exactly once, got %d calls, err %v", calls, err)
		}
	})

	t.Run("CancelledContextStopsRetries", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		p := Policy{MaxAttempts: 3, Delay: func(int) time.Duration { return time.Hour }}
		err := p.Do(cancelled, func(context.Context) error {
			calls++
			return errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call before cancellation, got %d", calls)
		}
	})
}

func TestSleepRange(t *testing.T) {
	t.Run("WithinBounds", func(t *testing.T) {
		delay := SleepRange(1, 3)
		for i := 0; i < 50; i++ {
			d := delay(2)
			if d < time.Second || d > 3*time.Second {
				t.Fatalf("delay %v outside [1s, 3s]", d)
			}
		}
	})

	t.Run("ZeroRange", func(t *testing.T) {
		if d := SleepRange(0, 0)(2); d != 0 {
			t.Errorf("expected no delay, got %v", d)
		}
	})

	t.Run("InvertedRangeClamped", func(t *testing.T) {
		if d := SleepRange(5, 1)(2); d != 5*time.Second {
			t.Errorf("expected clamp to minimum, got %v", d)
		}
	})
}
