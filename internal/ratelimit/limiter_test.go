package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
)

func testLimiter(cfg config.RateLimitConfig) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(cfg)
	l.now = clock.Now
	return l, clock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestWait_AdmitsUpToSecondLimit(t *testing.T) {
	l, _ := testLimiter(config.RateLimitConfig{
		"send_message": {RequestsPerSecond: 3},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "send_message", "conv1"); err != nil {
			t.Fatalf("admission %d: %v", i, err)
		}
	}

	// Fourth admission must block until the window moves; with a frozen clock
	// it can only end via cancellation.
	if err := l.Wait(ctx, "send_message", "conv1"); err == nil {
		t.Fatal("expected fourth admission to block until cancellation")
	}
}

func TestWait_WindowSlides(t *testing.T) {
	l, clock := testLimiter(config.RateLimitConfig{
		"send_message": {RequestsPerSecond: 2},
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "send_message", ""); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "send_message", ""); err != nil {
		t.Fatal(err)
	}

	clock.Advance(1100 * time.Millisecond)

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx2, "send_message", ""); err != nil {
		t.Fatalf("admission after window slide: %v", err)
	}
}

func TestWait_DifferentKeysProceedIndependently(t *testing.T) {
	l, _ := testLimiter(config.RateLimitConfig{
		"send_message": {RequestsPerSecond: 1},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "send_message", "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "send_message", "b"); err != nil {
		t.Fatalf("key b should not share key a's bucket: %v", err)
	}
}

func TestWait_GlobalBucketCapsAllOps(t *testing.T) {
	l, _ := testLimiter(config.RateLimitConfig{
		GlobalOp:       {RequestsPerSecond: 2},
		"send_message": {RequestsPerSecond: 10},
		"add_reaction": {RequestsPerSecond: 10},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "send_message", "c"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "add_reaction", "c"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "send_message", "c"); err == nil {
		t.Fatal("global bucket should block the third admission")
	}
}

func TestWait_MinuteWindowEnforced(t *testing.T) {
	l, clock := testLimiter(config.RateLimitConfig{
		"fetch_history": {RequestsPerSecond: 10, RequestsPerMinute: 3},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "fetch_history", ""); err != nil {
			t.Fatal(err)
		}
		clock.Advance(2 * time.Second)
	}

	blocked, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := l.Wait(blocked, "fetch_history", ""); err == nil {
		t.Fatal("minute window should block the fourth admission")
	}

	clock.Advance(time.Minute)
	if err := l.Wait(ctx, "fetch_history", ""); err != nil {
		t.Fatalf("admission after minute window slid: %v", err)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	l, _ := testLimiter(config.RateLimitConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "send_message", ""); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWait_WindowPropertyUnderConcurrency(t *testing.T) {
	l := New(config.RateLimitConfig{
		"send_message": {RequestsPerSecond: 5},
	})
	ctx := context.Background()

	var mu sync.Mutex
	var admissions []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx, "send_message", "conv"); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			admissions = append(admissions, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	// No 1s window may contain more than 5 admissions. Allow a small timing
	// slack because admission time and observation time differ.
	for i := range admissions {
		count := 0
		for j := range admissions {
			d := admissions[j].Sub(admissions[i])
			if d >= 0 && d < 900*time.Millisecond {
				count++
			}
		}
		if count > 5 {
			t.Fatalf("window starting at admission %d holds %d admissions", i, count)
		}
	}
}
