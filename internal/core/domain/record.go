package domain

import (
	"strings"
	"time"
)

// RecordKind distinguishes plain task-like records from messages that may
// hold several actionable items.
type RecordKind string

const (
	RecordKindTask    RecordKind = "task"
	RecordKindMessage RecordKind = "message"
)

// Record is a raw item fetched from a source.
type Record struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Kind        RecordKind     `json:"kind"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    Priority       `json:"priority"`
	Category    string         `json:"category,omitempty"`
	DueAt       *time.Time     `json:"due_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Raw         map[string]any `json:"raw,omitempty"`

	// AckToken is an opaque handle the source uses to acknowledge delivery.
	AckToken string `json:"-"`
}

// IsMessage reports whether the record should go through extraction.
func (r *Record) IsMessage() bool {
	return r.Kind == RecordKindMessage
}

// Priority is the urgency label attached to records and scores.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityAliases = map[string]Priority{
	"low":      PriorityLow,
	"minor":    PriorityLow,
	"medium":   PriorityMedium,
	"normal":   PriorityMedium,
	"high":     PriorityHigh,
	"major":    PriorityHigh,
	"urgent":   PriorityUrgent,
	"critical": PriorityUrgent,
	"blocker":  PriorityUrgent,
}

// ParsePriority maps a free-form label to a Priority. Unknown values map to medium.
func ParsePriority(s string) Priority {
	if p, ok := priorityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p
	}
	return PriorityMedium
}

// PriorityForScore derives the label from a 0-100 score.
func PriorityForScore(score int) Priority {
	switch {
	case score >= 80:
		return PriorityUrgent
	case score >= 65:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
