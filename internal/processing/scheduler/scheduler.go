// Package scheduler runs the harvest loop: fetch from every eligible source,
// score, deduplicate against the ledger and emit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/processing/emitter"
	"github.com/vietddude/harvester/internal/processing/health"
	"github.com/vietddude/harvester/internal/processing/metrics"
	"github.com/vietddude/harvester/internal/processing/recovery"
	"github.com/vietddude/harvester/internal/processing/scorer"
)

// ErrLedger marks cycle failures caused by the idempotency ledger.
var ErrLedger = errors.New("ledger failure")

var errStopped = errors.New("scheduler stopped")

// State is the lifecycle state of the loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Ledger is the idempotency ledger consulted around scoring and emission.
type Ledger interface {
	IsMarked(ctx context.Context, ns domain.Namespace, fingerprint string) (bool, error)
	Mark(ctx context.Context, ns domain.Namespace, entry *domain.LedgerEntry) (bool, error)
}

// Config holds scheduler dependencies and settings.
type Config struct {
	Sources   []source.Source
	Health    *health.Registry
	Executor  *recovery.Executor
	Ledger    Ledger
	Scorer    scorer.Scorer
	Extractor scorer.Extractor // nil scores message records as a whole
	Emitter   emitter.Emitter

	Interval      time.Duration
	Threshold     int
	Reprint       bool // bypass both ledger checks
	DryRun        bool // score and report only
	ShowAll       bool // log candidates below the threshold
	MaxIterations int  // 0 = unlimited
	FetchLimit    int  // new records per source and cycle, 0 = unlimited

	EscalationAfter int
	EscalationStep  time.Duration
	EscalationMax   time.Duration
}

// CycleStats summarises one cycle.
type CycleStats struct {
	ID             string
	Fetched        int
	Filtered       int
	Emitted        int
	Duplicates     int
	SourcesSkipped int
	SourceFailures int
	RecordErrors   int
	Duration       time.Duration
}

// RunStats summarises a daemon run.
type RunStats struct {
	Iterations   int
	TotalEmitted int
	CycleErrors  int
}

// Scheduler drives harvest cycles. Cycles run sequentially on the caller's
// goroutine; Stop may be called from any goroutine.
type Scheduler struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	// wait suspends between cycles; it returns errStopped when stop closes
	wait func(ctx context.Context, stop <-chan struct{}, d time.Duration) error

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.EscalationAfter <= 0 {
		cfg.EscalationAfter = 3
	}
	if cfg.EscalationStep <= 0 {
		cfg.EscalationStep = 60 * time.Second
	}
	if cfg.EscalationMax <= 0 {
		cfg.EscalationMax = 10 * time.Minute
	}
	if cfg.Executor == nil {
		cfg.Executor = recovery.NewExecutor(recovery.DefaultPolicy())
	}
	if cfg.Health == nil {
		cfg.Health = health.NewRegistry(health.DefaultConfig())
	}

	return &Scheduler{
		cfg:  cfg,
		log:  slog.Default().With("component", "scheduler"),
		now:  time.Now,
		wait: waitInterruptible,
		stop: make(chan struct{}),
	}
}

// SetClock replaces the clock used for artifact timestamps.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stop asks the loop to finish the current cycle and exit without sleeping.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(s.stop)
		s.log.Info("Shutdown requested, draining")
	})
}

func (s *Scheduler) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// RunOnce executes a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleStats, error) {
	return s.runCycle(ctx)
}

// Run executes cycles until Stop, ctx cancellation or MaxIterations.
// Stop drains cleanly and returns a nil error; ctx cancellation aborts
// the current cycle and returns the context error.
func (s *Scheduler) Run(ctx context.Context) (*RunStats, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("scheduler already %s", s.State())
	}
	defer s.state.Store(int32(StateStopped))

	s.log.Info("Scheduler started",
		"interval", s.cfg.Interval,
		"threshold", s.cfg.Threshold,
		"sources", len(s.cfg.Sources),
		"max_iterations", s.cfg.MaxIterations,
	)

	stats := &RunStats{}
	consecutiveErrors := 0

	for !s.stopping() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Iterations++
		cycle, err := s.runCycle(ctx)
		if cycle != nil {
			stats.TotalEmitted += cycle.Emitted
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			stats.CycleErrors++
			consecutiveErrors++
			metrics.CycleErrorsTotal.Inc()
			s.log.Error("Cycle failed",
				"iteration", stats.Iterations,
				"consecutive_errors", consecutiveErrors,
				"error", err,
			)
		} else {
			consecutiveErrors = 0
		}

		if s.cfg.MaxIterations > 0 && stats.Iterations >= s.cfg.MaxIterations {
			s.log.Info("Max iterations reached", "iterations", stats.Iterations)
			break
		}
		if s.stopping() {
			break
		}

		delay := s.cfg.Interval
		if extra := s.escalation(consecutiveErrors); extra > 0 {
			s.log.Warn("Too many consecutive cycle errors, delaying next cycle",
				"consecutive_errors", consecutiveErrors,
				"extra_delay", extra,
			)
			delay += extra
		}

		s.log.Debug("Sleeping until next cycle", "delay", delay)
		if err := s.wait(ctx, s.stop, delay); err != nil {
			if errors.Is(err, errStopped) {
				break
			}
			return stats, err
		}
	}

	s.log.Info("Scheduler stopped",
		"iterations", stats.Iterations,
		"total_emitted", stats.TotalEmitted,
		"cycle_errors", stats.CycleErrors,
	)
	return stats, nil
}

// escalation returns the extra delay after n consecutive cycle errors.
func (s *Scheduler) escalation(n int) time.Duration {
	if n < s.cfg.EscalationAfter {
		return 0
	}
	return min(time.Duration(n)*s.cfg.EscalationStep, s.cfg.EscalationMax)
}

func waitInterruptible(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	case <-timer.C:
		return nil
	}
}
