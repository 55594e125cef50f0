// Package backoff provides exponential backoff with jitter for upstream
// retries and reconnect loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff. Durations grow by Factor per
// attempt, randomized by Jitter and clamped to Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPolicy suits upstream API retries: 500ms doubling to 30s with 20%
// jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// ReconnectPolicy suits connection monitors: 1s doubling to 60s with 30%
// jitter so a fleet of adapters does not reconnect in lockstep.
func ReconnectPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     60 * time.Second,
		Factor:  2,
		Jitter:  0.3,
	}
}

// Delay computes the backoff for a 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits for the attempt's backoff or until the context is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	return SleepFor(ctx, p.Delay(attempt))
}

// SleepFor waits for the duration or until the context is cancelled.
func SleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn up to maxAttempts times, sleeping the policy's backoff
// between failures. The classify callback decides whether an error is worth
// retrying; a nil classify retries everything. The last error is returned
// when attempts run out.
func Retry(ctx context.Context, policy Policy, maxAttempts int, classify func(error) bool, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if classify != nil && !classify(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts {
			if err := policy.Sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return lastErr
}
