package domain

import "time"

// Namespace selects one of the ledger tables.
type Namespace string

const (
	NamespaceProcessed Namespace = "processed_sources"
	NamespaceEmitted   Namespace = "emitted_artifacts"
)

// Namespaces lists every ledger namespace.
var Namespaces = []Namespace{NamespaceProcessed, NamespaceEmitted}

// LedgerEntry is a write-once ledger row.
// Score is only meaningful for emitted artifacts, DerivedCount only for
// processed sources.
type LedgerEntry struct {
	Fingerprint        string    `db:"fingerprint"         json:"fingerprint"`
	Source             string    `db:"source"              json:"source"`
	SourceRecordID     string    `db:"source_record_id"    json:"source_record_id,omitempty"`
	OriginalTitle      string    `db:"original_title"      json:"original_title,omitempty"`
	DisplayTitle       string    `db:"display_title"       json:"display_title,omitempty"`
	DisplayDescription string    `db:"display_description" json:"display_description,omitempty"`
	Score              int       `db:"score"               json:"score"`
	DerivedCount       int       `db:"derived_count"       json:"derived_count"`
	RecordedAt         time.Time `db:"recorded_at"         json:"recorded_at"`
}

// LedgerStats summarises the emitted-artifact ledger.
type LedgerStats struct {
	Total        int            `json:"total"`
	BySource     map[string]int `json:"by_source"`
	AverageScore float64        `json:"average_score"`
	Processed    int            `json:"processed"`
}
