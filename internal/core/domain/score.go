package domain

import (
	"fmt"
	"time"
)

// Score is the result of scoring a record.
type Score struct {
	Value       int      `json:"score"`
	Priority    Priority `json:"priority"`
	Reason      string   `json:"reason"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Candidate is a scored item that may become an artifact.
// SubIndex is 0 for a record scored as a whole and N (1-based) for the
// N-th item extracted from a message record.
type Candidate struct {
	Record   *Record
	SubIndex int
	Score    Score
}

// ItemID returns the stable identifier of the candidate.
func (c *Candidate) ItemID() string {
	if c.SubIndex == 0 {
		return c.Record.ID
	}
	return fmt.Sprintf("%s-task%d", c.Record.ID, c.SubIndex)
}

// IdentityTitle returns the title that identifies the candidate in the
// emitted-artifact ledger.
func (c *Candidate) IdentityTitle() string {
	if c.SubIndex == 0 {
		return c.Record.Title
	}
	return c.Score.Title
}

// IdentityDescription returns the description that identifies the candidate
// in the emitted-artifact ledger.
func (c *Candidate) IdentityDescription() string {
	if c.SubIndex == 0 {
		return c.Record.Description
	}
	return c.Score.Description
}

// Artifact is the derived output handed to an emitter.
type Artifact struct {
	ID            string     `json:"id"`
	Fingerprint   string     `json:"fingerprint"`
	Source        string     `json:"source"`
	RecordID      string     `json:"record_id"`
	OriginalTitle string     `json:"original_title"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Score         int        `json:"score"`
	Priority      Priority   `json:"priority"`
	Reason        string     `json:"reason"`
	Category      string     `json:"category,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
