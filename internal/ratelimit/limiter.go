// Package ratelimit enforces per-operation throughput ceilings with
// cooperative waits. Each operation bucket tracks three sliding windows
// (second, minute, hour); callers block until admission would not exceed
// any window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
)

// GlobalOp is the bucket applied to every request in addition to the
// operation's own bucket.
const GlobalOp = "global"

const (
	windowSecond = time.Second
	windowMinute = time.Minute
	windowHour   = time.Hour
)

// Limiter admits requests against configured operation buckets. It never
// rejects; it only delays, and is cancellable through the caller's context.
type Limiter struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	buckets map[string]*bucket

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter from the rate_limit configuration section.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Wait blocks until one more request for op (scoped by key, which may be
// empty for global scope) fits in every window of both the op bucket and the
// global bucket. It returns early only on context cancellation.
func (l *Limiter) Wait(ctx context.Context, op, key string) error {
	global := l.bucket(GlobalOp, "")
	scoped := l.bucket(op, key)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Lock order is fixed (global first) so concurrent admissions for the
		// same key serialize without deadlock.
		global.mu.Lock()
		if scoped != global {
			scoped.mu.Lock()
		}

		now := l.now()
		wait := global.requiredWait(now)
		if scoped != global {
			if w := scoped.requiredWait(now); w > wait {
				wait = w
			}
		}

		if wait <= 0 {
			global.record(now)
			if scoped != global {
				scoped.record(now)
			}
		}

		if scoped != global {
			scoped.mu.Unlock()
		}
		global.mu.Unlock()

		if wait <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// bucket returns or creates the bucket for (op, key).
func (l *Limiter) bucket(op, key string) *bucket {
	id := op
	if key != "" {
		id = op + ":" + key
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{limits: l.cfg.Bucket(op)}
		l.buckets[id] = b
	}
	return b
}

// bucket tracks admission timestamps for one (op, key) pair.
type bucket struct {
	mu     sync.Mutex
	limits config.BucketConfig
	stamps []time.Time
}

// requiredWait returns how long the caller must wait before one more
// admission keeps every window under its threshold. Must be called with the
// bucket lock held.
func (b *bucket) requiredWait(now time.Time) time.Duration {
	b.prune(now)

	var wait time.Duration
	for _, w := range []struct {
		span  time.Duration
		limit int
	}{
		{windowSecond, b.limits.RequestsPerSecond},
		{windowMinute, b.limits.RequestsPerMinute},
		{windowHour, b.limits.RequestsPerHour},
	} {
		if w.limit <= 0 {
			continue
		}
		inWindow := b.countSince(now.Add(-w.span))
		if inWindow < w.limit {
			continue
		}
		// The oldest stamp inside the window must age out first.
		oldest := b.stamps[len(b.stamps)-inWindow]
		if d := oldest.Add(w.span).Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// record appends an admission. Must be called with the bucket lock held.
func (b *bucket) record(now time.Time) {
	b.stamps = append(b.stamps, now)
}

// prune drops stamps older than the largest window.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-windowHour)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// countSince counts stamps at or after the cutoff. Stamps are appended in
// order, so scan from the tail.
func (b *bucket) countSince(cutoff time.Time) int {
	n := 0
	for i := len(b.stamps) - 1; i >= 0; i-- {
		if b.stamps[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
