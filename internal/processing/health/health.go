// Package health tracks per-source circuit breakers and reports their state.
package health

import "time"

// SystemStatus represents the overall health state of the system.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceStatus is the observable state of one source.
type SourceStatus struct {
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	TotalSuccesses      int        `json:"total_successes"`
	LastError           string     `json:"last_error,omitempty"`
	CircuitOpen         bool       `json:"circuit_open"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
}

// Report contains the full health report.
type Report struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Sources      map[string]SourceStatus `json:"sources"`
}

// Aggregate derives the system status from source summaries: degraded when
// some circuits are open, critical when all of them are.
func Aggregate(sources map[string]SourceStatus) SystemStatus {
	open := 0
	for _, s := range sources {
		if s.CircuitOpen {
			open++
		}
	}
	switch {
	case open == 0:
		return StatusHealthy
	case open == len(sources):
		return StatusCritical
	default:
		return StatusDegraded
	}
}
