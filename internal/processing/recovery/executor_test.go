package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Minute,
		ExponentialBase: 2.0,
		Jitter:          0.1,
	}
}

func TestPolicy_DelayBounds(t *testing.T) {
	policies := []Policy{
		testPolicy(),
		{MaxRetries: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, ExponentialBase: 3, Jitter: 0.5},
		{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 1.5, Jitter: 0},
		{MaxRetries: 4, BaseDelay: 2 * time.Second, MaxDelay: time.Minute, ExponentialBase: 10, Jitter: 0.99},
	}
	randoms := []func() float64{
		func() float64 { return 0 },
		func() float64 { return 0.5 },
		func() float64 { return 0.999999 },
	}

	for _, p := range policies {
		for i := 0; i < p.MaxRetries; i++ {
			lower := p.Backoff(i)
			upper := time.Duration(float64(lower) * (1 + p.Jitter))
			ceiling := time.Duration(float64(p.MaxDelay) * (1 + p.Jitter))
			for _, rnd := range randoms {
				d := p.Delay(i, rnd)
				if d < lower || d > upper {
					t.Errorf("Delay(%d) = %v, want within [%v, %v]", i, d, lower, upper)
				}
				if d > ceiling {
					t.Errorf("Delay(%d) = %v exceeds cap %v", i, d, ceiling)
				}
			}
		}
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := testPolicy()
	p.MaxDelay = 5 * time.Second

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}

	// Large exponents must not overflow.
	if got := p.Backoff(5000); got != p.MaxDelay {
		t.Errorf("Backoff(5000) = %v, want %v", got, p.MaxDelay)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy should be valid: %v", err)
	}

	bad := []Policy{
		{MaxRetries: -1, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 2},
		{MaxRetries: 1, BaseDelay: 0, MaxDelay: time.Second, ExponentialBase: 2},
		{MaxRetries: 1, BaseDelay: time.Minute, MaxDelay: time.Second, ExponentialBase: 2},
		{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 1},
		{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Second, ExponentialBase: 2, Jitter: 1},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("policy %d: expected validation error", i)
		}
	}
}

func TestExecutor_TransientExhaustsRetries(t *testing.T) {
	rec := &sleepRecorder{}
	exec := NewExecutor(testPolicy(), WithSleep(rec.sleep), WithRand(func() float64 { return 0 }))

	cause := errors.New("connection reset by peer")
	attempts := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		attempts++
		return cause
	})

	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the operation's own error, got %v", err)
	}
	if got := Attempts(err); got != 4 {
		t.Errorf("Attempts(err) = %d, want 4", got)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(rec.delays))
	}
	for i, d := range want {
		if rec.delays[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, rec.delays[i], d)
		}
	}
}

func TestExecutor_FatalAttemptedOnce(t *testing.T) {
	for _, maxRetries := range []int{0, 3, 10} {
		rec := &sleepRecorder{}
		p := testPolicy()
		p.MaxRetries = maxRetries
		exec := NewExecutor(p, WithSleep(rec.sleep))

		attempts := 0
		cause := NewFatal("fetch", errors.New("bad config"))
		err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
			attempts++
			return cause
		})

		if attempts != 1 {
			t.Errorf("max_retries=%d: expected 1 attempt, got %d", maxRetries, attempts)
		}
		if err != cause {
			t.Errorf("expected fatal error returned as is, got %v", err)
		}
		if len(rec.delays) != 0 {
			t.Errorf("expected no sleeps, got %d", len(rec.delays))
		}
	}
}

func TestExecutor_RecoverableIsRetried(t *testing.T) {
	rec := &sleepRecorder{}
	exec := NewExecutor(testPolicy(), WithSleep(rec.sleep))

	attempts := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("401 unauthorized")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	exec := NewExecutor(testPolicy(), WithSleep((&sleepRecorder{}).sleep))

	calls := 0
	got, err := Execute(context.Background(), exec, "fetch", func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return []string{"a", "b"}, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 items, got %d", len(got))
	}
}

func TestExecutor_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(testPolicy(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	attempts := 0
	err := exec.Do(ctx, "fetch", func(ctx context.Context) error {
		attempts++
		return errors.New("timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext should return immediately on a cancelled context")
	}
}
