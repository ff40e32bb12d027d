// Package backoff provides the retry policy shared by the auth and
// download layers: a fixed attempt budget with exponential delays and
// ±25% jitter between attempts.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// jitterFraction is the ± spread applied to every computed delay.
const jitterFraction = 0.25

// Policy describes a retry schedule: how many attempts to make and how
// long to wait between them. Construct with Default or from config; the
// zero value makes exactly one attempt with no delay.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay after the first failed attempt
	MaxDelay    time.Duration // cap on any single delay
	Factor      float64       // delay multiplier per attempt
}

// Default is the policy used where config does not override it.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
	}
}

// Delay returns the wait before the next attempt, where attempt is the
// zero-based index of the attempt that just failed.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	// Apply ±25% jitter.
	jitter := d * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	return time.Duration(d + jitter)
}

// attempts normalizes MaxAttempts so a zero or negative policy still
// makes one attempt.
func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, or
// fn returns an error for which retryable reports false. The last error
// is returned unwrapped so callers keep their own error kinds; callers
// that need the attempt count track it in the closure.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := range p.attempts() {
		if attempt > 0 {
			if err := Sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// Sleep waits for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
