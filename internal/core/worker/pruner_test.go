package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubPurger struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (s *stubPurger) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, age)
	return 3, s.err
}

func (s *stubPurger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestNewPruner_Interval(t *testing.T) {
	tests := []struct {
		period   time.Duration
		interval time.Duration
		want     time.Duration
	}{
		{90 * 24 * time.Hour, 0, time.Hour},
		{5 * time.Minute, 0, time.Minute},
		{2 * time.Hour, 0, 12 * time.Minute},
		{90 * 24 * time.Hour, 5 * time.Minute, 5 * time.Minute},
	}

	for _, tt := range tests {
		p := NewPruner(&stubPurger{}, tt.period, tt.interval)
		if p.Interval() != tt.want {
			t.Errorf("period %s interval %s: expected %s, got %s", tt.period, tt.interval, tt.want, p.Interval())
		}
	}
}

func TestPruner_StartPrunesImmediately(t *testing.T) {
	purger := &stubPurger{}
	p := NewPruner(purger, 24*time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected initial prune")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if purger.calls[0] != 24*time.Hour {
		t.Errorf("expected retention 24h, got %s", purger.calls[0])
	}
}

func TestPruner_Disabled(t *testing.T) {
	purger := &stubPurger{}
	p := NewPruner(purger, 0, time.Minute)

	p.Start(context.Background())
	if purger.count() != 0 {
		t.Errorf("expected no prune when retention disabled, got %d", purger.count())
	}
}

func TestPruner_ErrorKeepsRunning(t *testing.T) {
	purger := &stubPurger{err: errors.New("database is locked")}
	p := NewPruner(purger, time.Hour, time.Minute)

	// prune logs and returns; the loop is not torn down by a failed pass
	p.prune(context.Background())
	p.prune(context.Background())
	if purger.count() != 2 {
		t.Errorf("expected 2 prune attempts, got %d", purger.count())
	}
}
