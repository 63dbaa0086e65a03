package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetriesTotal tracks retries scheduled by the executor
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation", "severity"},
	)

	// SourceFetchTotal tracks fetch outcomes per source
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_source_fetch_total",
			Help: "Total number of source fetches by result",
		},
		[]string{"source", "result"},
	)

	// SourceSkippedTotal tracks fetches skipped because the circuit was open
	SourceSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_source_skipped_total",
			Help: "Total number of cycles a source was skipped",
		},
		[]string{"source"},
	)

	// SourceCircuitOpen is 1 while a source circuit is open
	SourceCircuitOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_source_circuit_open",
			Help: "Whether the source circuit breaker is open",
		},
		[]string{"source"},
	)

	// RecordsFetched tracks records fetched per source
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_fetched_total",
			Help: "Total number of records fetched",
		},
		[]string{"source"},
	)

	// ArtifactsEmitted tracks emitted artifacts per source
	ArtifactsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_artifacts_emitted_total",
			Help: "Total number of artifacts emitted",
		},
		[]string{"source"},
	)

	// DuplicatesSkipped tracks ledger hits per namespace
	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_duplicates_skipped_total",
			Help: "Total number of items skipped because the ledger already had them",
		},
		[]string{"namespace"},
	)

	// ScorerFallbacks tracks primary scorer failures answered by local rules
	ScorerFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_scorer_fallbacks_total",
			Help: "Total number of scorer calls answered by the rule fallback",
		},
		[]string{"operation"},
	)

	// CycleDuration tracks scheduler cycle latency
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_cycle_duration_seconds",
			Help:    "Scheduler cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CycleErrorsTotal tracks cycles that ended with an error
	CycleErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_cycle_errors_total",
			Help: "Total number of failed scheduler cycles",
		},
	)

	// LedgerPurged tracks rows removed by retention sweeps
	LedgerPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_ledger_purged_total",
			Help: "Total number of ledger entries removed by retention",
		},
	)

	// DBConnectionPoolUsage tracks the database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
