package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/ledger"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/processing/metrics"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

type batch struct {
	src     source.Source
	records []*domain.Record
}

func (s *Scheduler) runCycle(ctx context.Context) (stats *CycleStats, err error) {
	start := time.Now()
	stats = &CycleStats{ID: uuid.NewString()}
	log := s.log.With("cycle", stats.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		stats.Duration = time.Since(start)
		metrics.CycleDuration.Observe(stats.Duration.Seconds())
	}()

	batches := s.fetchAll(ctx, log, stats)

	for _, b := range batches {
		fresh := 0
		for _, rec := range b.records {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if s.cfg.FetchLimit > 0 && fresh >= s.cfg.FetchLimit {
				log.Debug("Fetch limit reached, deferring remaining records",
					"source", b.src.Name(),
					"limit", s.cfg.FetchLimit,
				)
				break
			}
			isNew, err := s.processRecord(ctx, log, b.src, rec, stats)
			if isNew {
				fresh++
			}
			if err != nil {
				if isLedgerError(err) {
					return stats, err
				}
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				stats.RecordErrors++
				log.Error("Failed to process record",
					"source", b.src.Name(),
					"record", rec.ID,
					"severity", recovery.Classify(err),
					"error", err,
				)
			}
		}
	}

	log.Info("Cycle complete",
		"fetched", stats.Fetched,
		"filtered", stats.Filtered,
		"emitted", stats.Emitted,
		"duplicates", stats.Duplicates,
		"skipped_sources", stats.SourcesSkipped,
		"failed_sources", stats.SourceFailures,
		"record_errors", stats.RecordErrors,
		"duration", time.Since(start),
	)
	s.logUnhealthy(log)

	return stats, nil
}

// fetchAll visits sources in order. A failing source never affects the others.
func (s *Scheduler) fetchAll(ctx context.Context, log *slog.Logger, stats *CycleStats) []batch {
	batches := make([]batch, 0, len(s.cfg.Sources))

	for _, src := range s.cfg.Sources {
		if ctx.Err() != nil {
			break
		}
		name := src.Name()

		if s.cfg.Health.ShouldSkip(name) {
			stats.SourcesSkipped++
			metrics.SourceSkippedTotal.WithLabelValues(name).Inc()
			log.Warn("Skipping source, circuit open",
				"source", name,
				"retry_at", s.cfg.Health.Get(name).NextRetryAt,
			)
			continue
		}
		if !src.IsConfigured() {
			log.Debug("Source not configured", "source", name)
			continue
		}

		records, err := recovery.Execute(ctx, s.cfg.Executor, "fetch "+name,
			func(ctx context.Context) ([]*domain.Record, error) {
				if !src.Connect(ctx) {
					if err := src.LastError(); err != nil {
						return nil, err
					}
					return nil, fmt.Errorf("failed to connect to %s", name)
				}
				return src.Fetch(ctx, s.fetchLimit(src))
			})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			severity := recovery.Classify(err)
			stats.SourceFailures++
			metrics.SourceFetchTotal.WithLabelValues(name, "failure").Inc()
			// Fatal errors are configuration problems; retrying later cannot
			// help, so they do not count towards the breaker.
			if severity != recovery.Fatal {
				s.cfg.Health.RecordFailure(name, err.Error())
			}
			log.Error("Source failed",
				"source", name,
				"attempts", recovery.Attempts(err),
				"severity", severity,
				"error", err,
			)
			continue
		}

		s.cfg.Health.RecordSuccess(name)
		metrics.SourceFetchTotal.WithLabelValues(name, "success").Inc()
		metrics.RecordsFetched.WithLabelValues(name).Add(float64(len(records)))
		stats.Fetched += len(records)
		log.Info("Fetched records", "source", name, "count", len(records))

		batches = append(batches, batch{src: src, records: records})
	}

	return batches
}

// processRecord scores one record and emits its candidates. The record is
// marked processed only after every candidate was handled, so a failed
// emission makes the record eligible again next cycle. The returned bool
// reports whether the record was new to the processed ledger.
func (s *Scheduler) processRecord(
	ctx context.Context,
	log *slog.Logger,
	src source.Source,
	rec *domain.Record,
	stats *CycleStats,
) (bool, error) {
	name := src.Name()
	sourceFP := ledger.SourceFingerprint(name, rec.ID)

	if !s.cfg.Reprint {
		done, err := s.cfg.Ledger.IsMarked(ctx, domain.NamespaceProcessed, sourceFP)
		if err != nil {
			return false, ledgerError(err)
		}
		if done {
			stats.Duplicates++
			metrics.DuplicatesSkipped.WithLabelValues(string(domain.NamespaceProcessed)).Inc()
			log.Debug("Record already processed", "source", name, "record", rec.ID)
			s.ack(ctx, log, src, rec)
			return false, nil
		}
	}

	candidates, err := s.candidates(ctx, rec)
	if err != nil {
		return true, fmt.Errorf("failed to score record: %w", err)
	}
	slices.SortStableFunc(candidates, func(a, b domain.Candidate) int {
		return cmp.Compare(b.Score.Value, a.Score.Value)
	})

	var emitErr error
	for i := range candidates {
		c := &candidates[i]
		if c.Score.Value < s.cfg.Threshold {
			if s.cfg.ShowAll {
				log.Info("Below threshold",
					"source", name,
					"item", c.ItemID(),
					"title", c.Score.Title,
					"score", c.Score.Value,
					"threshold", s.cfg.Threshold,
				)
			}
			continue
		}
		stats.Filtered++

		if err := s.emitCandidate(ctx, log, name, c, stats); err != nil {
			if isLedgerError(err) {
				return true, err
			}
			emitErr = err
		}
	}

	if emitErr != nil {
		return true, emitErr
	}
	if s.cfg.DryRun {
		return true, nil
	}

	if _, err := s.cfg.Ledger.Mark(ctx, domain.NamespaceProcessed, &domain.LedgerEntry{
		Fingerprint:    sourceFP,
		Source:         name,
		SourceRecordID: rec.ID,
		OriginalTitle:  rec.Title,
		DerivedCount:   len(candidates),
	}); err != nil {
		return true, ledgerError(err)
	}

	s.ack(ctx, log, src, rec)
	return true, nil
}

// fetchLimit is the limit passed to Fetch. Sources that consume records on
// Ack are bounded at fetch time; positional sources return everything and
// the limit is applied to new records only.
func (s *Scheduler) fetchLimit(src source.Source) int {
	if _, ok := src.(source.Acknowledger); ok {
		return s.cfg.FetchLimit
	}
	return 0
}

func (s *Scheduler) candidates(ctx context.Context, rec *domain.Record) ([]domain.Candidate, error) {
	if rec.IsMessage() && s.cfg.Extractor != nil {
		return s.cfg.Extractor.Extract(ctx, rec)
	}
	score, err := s.cfg.Scorer.Score(ctx, rec)
	if err != nil {
		return nil, err
	}
	return []domain.Candidate{{Record: rec, Score: score}}, nil
}

func (s *Scheduler) emitCandidate(
	ctx context.Context,
	log *slog.Logger,
	name string,
	c *domain.Candidate,
	stats *CycleStats,
) error {
	fp := ledger.ArtifactFingerprint(name, c.ItemID(), c.IdentityTitle(), c.IdentityDescription())

	if !s.cfg.Reprint {
		done, err := s.cfg.Ledger.IsMarked(ctx, domain.NamespaceEmitted, fp)
		if err != nil {
			return ledgerError(err)
		}
		if done {
			stats.Duplicates++
			metrics.DuplicatesSkipped.WithLabelValues(string(domain.NamespaceEmitted)).Inc()
			log.Debug("Artifact already emitted", "source", name, "item", c.ItemID())
			return nil
		}
	}

	artifact := s.artifact(name, fp, c)
	if s.cfg.DryRun {
		log.Info("Dry run, not emitting",
			"source", name,
			"item", c.ItemID(),
			"title", artifact.Title,
			"score", artifact.Score,
		)
		return nil
	}

	if err := s.cfg.Emitter.Emit(ctx, artifact); err != nil {
		return fmt.Errorf("failed to emit %s: %w", c.ItemID(), err)
	}

	if _, err := s.cfg.Ledger.Mark(ctx, domain.NamespaceEmitted, &domain.LedgerEntry{
		Fingerprint:        fp,
		Source:             name,
		SourceRecordID:     c.Record.ID,
		OriginalTitle:      c.Record.Title,
		DisplayTitle:       artifact.Title,
		DisplayDescription: artifact.Description,
		Score:              artifact.Score,
	}); err != nil {
		return ledgerError(err)
	}

	stats.Emitted++
	metrics.ArtifactsEmitted.WithLabelValues(name).Inc()
	return nil
}

func (s *Scheduler) artifact(name, fp string, c *domain.Candidate) *domain.Artifact {
	title := c.Score.Title
	if title == "" {
		title = c.Record.Title
	}
	return &domain.Artifact{
		ID:            uuid.NewString(),
		Fingerprint:   fp,
		Source:        name,
		RecordID:      c.ItemID(),
		OriginalTitle: c.Record.Title,
		Title:         title,
		Description:   c.Score.Description,
		Score:         c.Score.Value,
		Priority:      c.Score.Priority,
		Reason:        c.Score.Reason,
		Category:      c.Record.Category,
		DueAt:         c.Record.DueAt,
		CreatedAt:     s.now().UTC(),
	}
}

func (s *Scheduler) ack(ctx context.Context, log *slog.Logger, src source.Source, rec *domain.Record) {
	if s.cfg.DryRun {
		return
	}
	acker, ok := src.(source.Acknowledger)
	if !ok {
		return
	}
	if err := acker.Ack(ctx, rec); err != nil {
		log.Warn("Failed to acknowledge record", "source", src.Name(), "record", rec.ID, "error", err)
	}
}

func (s *Scheduler) logUnhealthy(log *slog.Logger) {
	var unhealthy []string
	for name, st := range s.cfg.Health.Summary() {
		if !st.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) == 0 {
		return
	}
	sort.Strings(unhealthy)
	log.Warn("Unhealthy sources", "sources", unhealthy)
}

func ledgerError(err error) error {
	return fmt.Errorf("%w: %w", ErrLedger, err)
}

func isLedgerError(err error) bool {
	return errors.Is(err, ErrLedger)
}
