// Package control wires the harvester components together.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/ledger"
	"github.com/vietddude/harvester/internal/core/worker"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/infra/source/jsonfile"
	"github.com/vietddude/harvester/internal/infra/source/sqs"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
	"github.com/vietddude/harvester/internal/infra/storage/sqlstore"
	"github.com/vietddude/harvester/internal/processing/emitter"
	"github.com/vietddude/harvester/internal/processing/health"
	"github.com/vietddude/harvester/internal/processing/recovery"
	"github.com/vietddude/harvester/internal/processing/scheduler"
	"github.com/vietddude/harvester/internal/processing/scorer"
)

// Harvester is the main application struct that owns every component.
type Harvester struct {
	cfg          *config.AppConfig
	store        *Store
	health       *health.Registry
	sources      []source.Source
	emitter      emitter.Emitter
	scheduler    *scheduler.Scheduler
	pruner       *worker.Pruner
	healthServer *health.Server
	log          *slog.Logger
}

// Store is the ledger together with the connection backing it.
type Store struct {
	Ledger *ledger.Ledger
	db     *sqlstore.DB
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenStore opens the ledger: in memory when no database URL is set,
// otherwise on SQL with migrations applied.
func OpenStore(ctx context.Context, cfg sqlstore.Config) (*Store, error) {
	var repo storage.LedgerRepository
	var db *sqlstore.DB

	if cfg.URL != "" {
		var err error
		db, err = sqlstore.NewDB(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		repo = sqlstore.NewLedgerRepo(db)
		slog.Info("Using SQL ledger", "driver", db.Driver())
	} else {
		repo = memory.NewLedgerRepo()
		slog.Warn("Using in-memory ledger, state is lost on exit")
	}

	return &Store{Ledger: ledger.New(repo), db: db}, nil
}

// NewSourceRegistry returns a registry with every built-in source type.
func NewSourceRegistry() *source.Registry {
	r := source.NewRegistry()
	r.Register(jsonfile.Type, jsonfile.Factory)
	r.Register(sqs.Type, sqs.Factory)
	return r
}

// NewEmitter builds the configured emitters. Several types fan out in the
// configured order.
func NewEmitter(cfg *config.AppConfig) (emitter.Emitter, error) {
	emitters := make(emitter.Multi, 0, len(cfg.Emitter.Type))
	for _, typ := range cfg.Emitter.Type {
		switch typ {
		case "", "log":
			emitters = append(emitters, emitter.NewLogEmitter(nil))
		case "redis":
			q, err := OpenQueue(cfg.Redis)
			if err != nil {
				_ = emitters.Close()
				return nil, err
			}
			emitters = append(emitters, q)
		default:
			_ = emitters.Close()
			return nil, fmt.Errorf("unknown emitter type %q", typ)
		}
	}

	switch len(emitters) {
	case 0:
		return emitter.NewLogEmitter(nil), nil
	case 1:
		return emitters[0], nil
	default:
		return emitters, nil
	}
}

// OpenQueue connects to the artifact queue used by the redis emitter.
func OpenQueue(cfg redisclient.Config) (*redisclient.QueueEmitter, error) {
	client, err := redisclient.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return redisclient.NewQueueEmitter(client, cfg.Queue), nil
}

// NewScorer builds the scorer chain: the remote service when configured,
// falling back to local rules.
func NewScorer(cfg config.ScorerConfig) *scorer.FallbackScorer {
	var remote scorer.Remote
	if cfg.URL != "" {
		remote = scorer.NewHTTPScorer(cfg.URL, cfg.APIKey, cfg.Timeout)
	}
	return scorer.NewFallbackScorer(remote, scorer.NewRuleScorer(), cfg.Enabled)
}

// New creates a Harvester with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig) (*Harvester, error) {
	// 1. Storage
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. Sources
	sources, err := NewSourceRegistry().Build(ctx, cfg.Sources)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if len(sources) == 0 {
		slog.Warn("No sources configured")
	}

	// 3. Emitter
	em, err := NewEmitter(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to init emitter: %w", err)
	}

	// 4. Resilience
	registry := health.NewRegistry(cfg.Breaker)
	executor := recovery.NewExecutor(cfg.Retry)

	// 5. Scheduler
	sc := NewScorer(cfg.Scorer)
	slog.Info("Scorer ready", "remote", sc.UsesRemote())

	sched := scheduler.New(scheduler.Config{
		Sources:         sources,
		Health:          registry,
		Executor:        executor,
		Ledger:          store.Ledger,
		Scorer:          sc,
		Extractor:       sc,
		Emitter:         em,
		Interval:        cfg.Scheduler.Interval,
		Threshold:       cfg.Scheduler.Threshold,
		Reprint:         cfg.Scheduler.Reprint,
		DryRun:          cfg.Scheduler.DryRun,
		ShowAll:         cfg.Scheduler.ShowAll,
		MaxIterations:   cfg.Scheduler.MaxIterations,
		FetchLimit:      cfg.Scheduler.FetchLimit,
		EscalationAfter: cfg.Scheduler.EscalationAfter,
		EscalationStep:  cfg.Scheduler.EscalationStep,
		EscalationMax:   cfg.Scheduler.EscalationMax,
	})

	return &Harvester{
		cfg:          cfg,
		store:        store,
		health:       registry,
		sources:      sources,
		emitter:      em,
		scheduler:    sched,
		pruner:       worker.NewPruner(store.Ledger, cfg.Retention.Period, cfg.Retention.CheckInterval),
		healthServer: health.NewServer(registry, cfg.Server.Port),
		log:          slog.Default(),
	}, nil
}

// Health returns the source health registry.
func (h *Harvester) Health() *health.Registry {
	return h.health
}

// Ledger returns the idempotency ledger.
func (h *Harvester) Ledger() *ledger.Ledger {
	return h.store.Ledger
}

// Sources returns the enabled sources in configuration order.
func (h *Harvester) Sources() []source.Source {
	return h.sources
}

// RunOnce runs a single cycle.
func (h *Harvester) RunOnce(ctx context.Context) (*scheduler.CycleStats, error) {
	return h.scheduler.RunOnce(ctx)
}

// Run starts the background components and runs the scheduler loop until it
// stops. Background components stop when Run returns.
func (h *Harvester) Run(ctx context.Context) (*scheduler.RunStats, error) {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start Health Server
	go func() {
		if err := h.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Health server failed", "error", err)
		}
	}()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := h.healthServer.Stop(stopCtx); err != nil {
			h.log.Warn("Failed to stop health server", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if h.store.db != nil {
		h.store.db.StartMetricsCollector(bgCtx)
	}

	// Start Pruner
	go h.pruner.Start(bgCtx)

	stats, err := h.scheduler.Run(ctx)
	if err == nil {
		h.logLedgerTotals(context.Background())
	}
	return stats, err
}

// Shutdown asks the scheduler to drain: the current cycle completes and no
// further cycle starts.
func (h *Harvester) Shutdown() {
	h.scheduler.Stop()
}

// Close releases the emitter and the database connection.
func (h *Harvester) Close() error {
	h.log.Info("Closing harvester")
	return errors.Join(h.emitter.Close(), h.store.Close())
}

func (h *Harvester) logLedgerTotals(ctx context.Context) {
	stats, err := h.store.Ledger.Stats(ctx)
	if err != nil {
		h.log.Warn("Failed to read ledger stats", "error", err)
		return
	}
	h.log.Info("Ledger totals",
		"emitted", stats.Total,
		"processed", stats.Processed,
		"average_score", fmt.Sprintf("%.1f", stats.AverageScore),
	)
}

// ProbeResult is the outcome of connecting to one source.
type ProbeResult struct {
	Name       string
	Type       string
	Configured bool
	Connected  bool
	Severity   string
	Error      error
}

// ProbeSources builds every configured source and tries to connect to it.
func ProbeSources(ctx context.Context, cfgs []config.SourceConfig) []ProbeResult {
	registry := NewSourceRegistry()
	results := make([]ProbeResult, 0, len(cfgs))

	for _, c := range cfgs {
		res := ProbeResult{Name: c.Name, Type: c.Type}
		if c.Disabled {
			res.Severity = "disabled"
			results = append(results, res)
			continue
		}

		srcs, err := registry.Build(ctx, []config.SourceConfig{c})
		if err != nil {
			res.Error = err
			res.Severity = recovery.Classify(err).String()
			results = append(results, res)
			continue
		}

		src := srcs[0]
		res.Configured = src.IsConfigured()
		if res.Configured {
			res.Connected = src.Connect(ctx)
			if !res.Connected {
				res.Error = src.LastError()
				res.Severity = recovery.Classify(res.Error).String()
			}
		}
		results = append(results, res)
	}
	return results
}
