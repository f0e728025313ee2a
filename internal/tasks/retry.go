package tasks

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded-attempt retry with failure classification. The zero
// value attempts once with no delay.
type Policy struct {
	// MaxAttempts is the total attempt budget including the first try.
	MaxAttempts int
	// IsFatal short-circuits the budget: a true result returns the error
	// immediately with no further attempts.
	IsFatal func(error) bool
	// Delay returns the pause before the given attempt (2-based; the first
	// attempt never waits). Nil means no delay.
	Delay func(attempt int) time.Duration
	// OnRetry is invoked before every attempt after the first.
	OnRetry func(attempt int)
}

// Do runs op under the policy and returns nil on the first success, the
// error unchanged on a fatal classification, or the last error once the
// budget is exhausted.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if p.OnRetry != nil {
				p.OnRetry(attempt)
			}
			if p.Delay != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.Delay(attempt)):
				}
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if p.IsFatal != nil && p.IsFatal(err) {
			return err
		}
	}
	return err
}

// SleepRange returns a delay function drawing uniformly from
// [minSec, maxSec] seconds, matching the configured sleep-interval range.
func SleepRange(minSec, maxSec int) func(int) time.Duration {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec < minSec {
		maxSec = minSec
	}
	return func(int) time.Duration {
		span := maxSec - minSec
		sec := minSec
		if span > 0 {
			sec += rand.Intn(span + 1)
		}
		return time.Duration(sec) * time.Second
	}
}
