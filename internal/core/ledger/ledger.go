// Package ledger records which inputs were processed and which artifacts were
// emitted, so that re-running the pipeline never produces duplicates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/processing/metrics"
)

// Ledger is the idempotency ledger over a storage backend.
type Ledger struct {
	repo storage.LedgerRepository
	now  func() time.Time
	log  *slog.Logger
}

// New creates a ledger backed by repo.
func New(repo storage.LedgerRepository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  time.Now,
		log:  slog.Default(),
	}
}

// SetClock replaces the clock used for RecordedAt and purge cutoffs.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// IsMarked reports whether fingerprint is recorded in ns.
func (l *Ledger) IsMarked(ctx context.Context, ns domain.Namespace, fingerprint string) (bool, error) {
	ok, err := l.repo.Exists(ctx, ns, fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to check %s ledger: %w", ns, err)
	}
	return ok, nil
}

// Mark records entry in ns. It returns true if this call inserted the
// entry and false if the fingerprint was already present; an existing entry
// is never overwritten.
func (l *Ledger) Mark(ctx context.Context, ns domain.Namespace, entry *domain.LedgerEntry) (bool, error) {
	if entry == nil || entry.Fingerprint == "" {
		return false, errors.New("ledger entry requires a fingerprint")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = l.now().UTC()
	}

	inserted, err := l.repo.Insert(ctx, ns, entry)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s ledger: %w", ns, err)
	}
	if !inserted {
		l.log.Debug("Ledger entry already present", "namespace", ns, "fingerprint", entry.Fingerprint)
	}
	return inserted, nil
}

// Get returns the entry for fingerprint, or storage.ErrEntryNotFound.
func (l *Ledger) Get(ctx context.Context, ns domain.Namespace, fingerprint string) (*domain.LedgerEntry, error) {
	return l.repo.Get(ctx, ns, fingerprint)
}

// Recent returns up to limit of the newest entries in ns.
func (l *Ledger) Recent(ctx context.Context, ns domain.Namespace, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return l.repo.Recent(ctx, ns, limit)
}

// Stats summarises the ledger.
func (l *Ledger) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	stats, err := l.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger stats: %w", err)
	}
	return stats, nil
}

// PurgeOlderThan removes entries older than age from both namespaces and
// returns how many were removed.
func (l *Ledger) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("purge age must be positive, got %s", age)
	}
	cutoff := l.now().Add(-age).UTC()

	var total int64
	for _, ns := range domain.Namespaces {
		n, err := l.repo.DeleteOlderThan(ctx, ns, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s ledger: %w", ns, err)
		}
		total += n
	}

	metrics.LedgerPurged.Add(float64(total))
	l.log.Info("Purged ledger entries", "count", total, "cutoff", cutoff)
	return total, nil
}
