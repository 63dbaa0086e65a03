package scorer

import (
	"context"
	"log/slog"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/processing/metrics"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// Remote is an external service that can both score and extract.
type Remote interface {
	Scorer
	Extractor
}

// FallbackScorer uses the remote service when available and the local rules
// otherwise, so scoring never stalls the pipeline.
type FallbackScorer struct {
	remote  Remote
	rules   *RuleScorer
	enabled bool
	log     *slog.Logger
}

// NewFallbackScorer creates a scorer. remote may be nil; enabled=false
// forces the rules even when a remote is configured.
func NewFallbackScorer(remote Remote, rules *RuleScorer, enabled bool) *FallbackScorer {
	if rules == nil {
		rules = NewRuleScorer()
	}
	return &FallbackScorer{
		remote:  remote,
		rules:   rules,
		enabled: enabled && remote != nil,
		log:     slog.Default(),
	}
}

// UsesRemote reports whether the remote service is consulted.
func (s *FallbackScorer) UsesRemote() bool {
	return s.enabled
}

// Score implements Scorer.
func (s *FallbackScorer) Score(ctx context.Context, record *domain.Record) (domain.Score, error) {
	if s.enabled {
		score, err := s.remote.Score(ctx, record)
		if err == nil {
			return score, nil
		}
		s.fallback("score", record, err)
	}
	return s.rules.Score(ctx, record)
}

// Extract implements Extractor. On remote failure the message is scored
// as a single candidate.
func (s *FallbackScorer) Extract(ctx context.Context, record *domain.Record) ([]domain.Candidate, error) {
	if s.enabled {
		candidates, err := s.remote.Extract(ctx, record)
		if err == nil {
			return candidates, nil
		}
		s.fallback("extract", record, err)
	}
	return s.rules.Extract(ctx, record)
}

func (s *FallbackScorer) fallback(op string, record *domain.Record, err error) {
	metrics.ScorerFallbacks.WithLabelValues(op).Inc()
	s.log.Warn("Scorer unavailable, using local rules",
		"operation", op,
		"source", record.Source,
		"record", record.ID,
		"severity", recovery.Classify(err),
		"error", err,
	)
}
