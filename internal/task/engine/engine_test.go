package engine

import (
	"context"
	"errors"
	logx "finwatch/pkg/logx"
	"math/rand"
	"testing"
	"time"
)

func TestTaskOptionsWithDefaults(t *testing.T) {
	t.Parallel()
	o := DefaultTaskOptions(Config{RetryMax: 4})
	if o.RetryMax != 4 {
		t.Fatalf("RetryMax = %d, want 4 (engine default)", o.RetryMax)
	}
	if o.RetryBase != 500*time.Millisecond {
		t.Fatalf("RetryBase = %v, want 500ms", o.RetryBase)
	}
	if o.RetryMaxDelay != 15*time.Second {
		t.Fatalf("RetryMaxDelay = %v, want 15s", o.RetryMaxDelay)
	}
	if o.RetryJitter != 0.2 {
		t.Fatalf("RetryJitter = %v, want 0.2", o.RetryJitter)
	}
	if o.Overlap != OverlapAllow {
		t.Fatalf("Overlap = %v, zero value must stay OverlapAllow", o.Overlap)
	}
}

func TestBackoffDelayGrowthAndCap(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: time.Second, RetryMaxDelay: 5 * time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))

	for retry := 1; retry <= 10; retry++ {
		d := backoffDelay(opt, retry, rng)
		if d <= 0 {
			t.Fatalf("backoffDelay(retry=%d) = %v, want > 0", retry, d)
		}
		if d > opt.RetryMaxDelay {
			t.Fatalf("backoffDelay(retry=%d) = %v, exceeds cap %v", retry, d, opt.RetryMaxDelay)
		}
	}

	// First retry stays near the base (within jitter).
	d := backoffDelay(opt, 1, rng)
	if d < 800*time.Millisecond || d > 1200*time.Millisecond {
		t.Fatalf("backoffDelay(retry=1) = %v, want within 20%% of base", d)
	}
}

func TestBackoffDelayRespectsRetryAfterHint(t *testing.T) {
	t.Parallel()
	opt := DefaultTaskOptions(Config{RetryMax: 3})
	rng := rand.New(rand.NewSource(7))

	base := errors.New("rate limited")
	err := RetryAfter(base, 2*time.Second)

	var ra RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != 2*time.Second {
		t.Fatalf("RetryAfter hint not extractable from %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("RetryAfter must wrap the original error")
	}

	d := backoffDelayWithHint(opt, 1, err, rng)
	if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
		t.Fatalf("backoffDelayWithHint = %v, want hint within 20%%", d)
	}

	// Hints larger than the cap get clamped.
	err = RetryAfter(base, time.Hour)
	if d := backoffDelayWithHint(opt, 1, err, rng); d > opt.RetryMaxDelay {
		t.Fatalf("backoffDelayWithHint = %v, exceeds cap %v", d, opt.RetryMaxDelay)
	}
}

func TestNoRetry(t *testing.T) {
	t.Parallel()
	if NoRetry(nil) != nil {
		t.Fatal("NoRetry(nil) must stay nil")
	}
	base := errors.New("bad input")
	err := NoRetry(base)
	if !IsNoRetry(err) {
		t.Fatal("IsNoRetry(NoRetry(err)) = false, want true")
	}
	if !errors.Is(err, base) {
		t.Fatal("NoRetry must wrap the original error")
	}
	if IsNoRetry(base) {
		t.Fatal("IsNoRetry(plain error) = true, want false")
	}
}

func TestEnqueueStateChecks(t *testing.T) {
	t.Parallel()
	run := func(context.Context) error { return nil }

	s := New(Config{Enabled: false}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue on disabled engine = %v, want ErrDisabled", err)
	}

	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start = %v, want ErrStopped", err)
	}
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("Enqueue with nil Run = nil error, want rejection")
	}
	if err := s.Enqueue(Task{Run: run}); err == nil {
		t.Fatal("Enqueue with empty Name = nil error, want rejection")
	}
}

func TestRunStateOverlapGate(t *testing.T) {
	t.Parallel()
	var st RunState
	if !st.tryAcquire() {
		t.Fatal("first tryAcquire = false, want true")
	}
	if st.tryAcquire() {
		t.Fatal("second tryAcquire = true, want false while in flight")
	}
	st.release()
	if !st.tryAcquire() {
		t.Fatal("tryAcquire after release = false, want true")
	}
}
