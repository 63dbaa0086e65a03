package health

import (
	"sort"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/processing/metrics"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 300 * time.Second
)

// Config holds circuit breaker settings shared by every source.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" split_words:"true"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"  split_words:"true"`
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

// SourceHealth is a snapshot of one source's breaker state.
type SourceHealth struct {
	Name                string
	ConsecutiveFailures int
	TotalFailures       int
	TotalSuccesses      int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastError           string
	NextRetryAt         time.Time // zero when closed
	FailureThreshold    int
	RecoveryTimeout     time.Duration
}

// IsCircuitOpen reports whether the source must be skipped at now.
func (h SourceHealth) IsCircuitOpen(now time.Time) bool {
	return h.ConsecutiveFailures >= h.FailureThreshold &&
		!h.NextRetryAt.IsZero() &&
		now.Before(h.NextRetryAt)
}

// IsHealthy reports whether the source is below its failure threshold.
func (h SourceHealth) IsHealthy() bool {
	return h.ConsecutiveFailures < h.FailureThreshold
}

type entry struct {
	mu    sync.Mutex
	state SourceHealth
}

// Registry holds one circuit breaker per source name.
// Entries are created on first reference and live for the process lifetime.
type Registry struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	sources map[string]*entry
}

// NewRegistry creates a registry. Zero config values fall back to defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &Registry{
		cfg:     cfg,
		now:     time.Now,
		sources: make(map[string]*entry),
	}
}

// SetClock replaces the registry clock.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) get(name string) *entry {
	r.mu.RLock()
	e, ok := r.sources[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sources[name]; ok {
		return e
	}
	e = &entry{state: SourceHealth{
		Name:             name,
		FailureThreshold: r.cfg.FailureThreshold,
		RecoveryTimeout:  r.cfg.RecoveryTimeout,
	}}
	r.sources[name] = e
	return e
}

// ShouldSkip reports whether the source circuit is open.
func (r *Registry) ShouldSkip(name string) bool {
	e := r.get(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsCircuitOpen(r.now())
}

// RecordSuccess closes the source circuit.
func (r *Registry) RecordSuccess(name string) {
	e := r.get(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveFailures = 0
	e.state.TotalSuccesses++
	e.state.LastSuccessAt = r.now()
	e.state.NextRetryAt = time.Time{}

	metrics.SourceCircuitOpen.WithLabelValues(name).Set(0)
}

// RecordFailure counts a failure and opens the circuit once the threshold
// is reached. Each failure at or above the threshold restarts the timeout.
func (r *Registry) RecordFailure(name, message string) {
	e := r.get(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	e.state.ConsecutiveFailures++
	e.state.TotalFailures++
	e.state.LastFailureAt = now
	e.state.LastError = message

	if e.state.ConsecutiveFailures >= e.state.FailureThreshold {
		e.state.NextRetryAt = now.Add(e.state.RecoveryTimeout)
		metrics.SourceCircuitOpen.WithLabelValues(name).Set(1)
	}
}

// Get returns a snapshot of the source state.
func (r *Registry) Get(name string) SourceHealth {
	e := r.get(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Names returns the known source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns the observable state of every known source.
func (r *Registry) Summary() map[string]SourceStatus {
	now := r.now()
	summary := make(map[string]SourceStatus)
	for _, name := range r.Names() {
		h := r.Get(name)
		status := SourceStatus{
			Healthy:             h.IsHealthy(),
			ConsecutiveFailures: h.ConsecutiveFailures,
			TotalFailures:       h.TotalFailures,
			TotalSuccesses:      h.TotalSuccesses,
			LastError:           h.LastError,
			CircuitOpen:         h.IsCircuitOpen(now),
		}
		if !h.NextRetryAt.IsZero() {
			next := h.NextRetryAt
			status.NextRetryAt = &next
		}
		summary[name] = status
	}
	return summary
}

// Report builds a full health report.
func (r *Registry) Report() Report {
	sources := r.Summary()
	return Report{
		SystemStatus: Aggregate(sources),
		Sources:      sources,
	}
}
