package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2}

	if got := p.delayWithRand(1, 0); got != 100*time.Millisecond {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := p.delayWithRand(3, 0); got != 400*time.Millisecond {
		t.Fatalf("attempt 3 = %v", got)
	}
}

func TestDelayClampsToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 5 * time.Second, Factor: 10}
	if got := p.delayWithRand(4, 0); got != 5*time.Second {
		t.Fatalf("delay = %v, want clamped to max", got)
	}
}

func TestDelayJitterStaysWithinBound(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Factor: 1, Jitter: 0.5}
	min, max := time.Second, 1500*time.Millisecond
	for _, r := range []float64{0, 0.5, 0.999} {
		got := p.delayWithRand(1, r)
		if got < min || got > max {
			t.Fatalf("delay %v outside [%v, %v]", got, min, max)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{Initial: time.Microsecond, Max: time.Millisecond, Factor: 2}, 5, nil,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryRespectsClassify(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), DefaultPolicy(), 5,
		func(err error) bool { return !errors.Is(err, fatal) },
		func(context.Context) error {
			calls++
			return fatal
		})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want immediate stop", err, calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultPolicy(), 3, nil, func(context.Context) error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
