// Package scorer rates records and extracts actionable items from messages.
package scorer

import (
	"context"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Scorer rates a single record.
type Scorer interface {
	Score(ctx context.Context, record *domain.Record) (domain.Score, error)
}

// Extractor turns a message record into zero or more candidates.
type Extractor interface {
	Extract(ctx context.Context, record *domain.Record) ([]domain.Candidate, error)
}

// clamp keeps a score within 0-100.
func clamp(score int) int {
	return max(0, min(100, score))
}
