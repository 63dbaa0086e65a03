package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

var _ storage.LedgerRepository = (*LedgerRepo)(nil)

// LedgerRepo implements storage.LedgerRepository using SQL.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new SQL ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

const (
	insertEmittedQuery = `INSERT INTO emitted_artifacts
		(fingerprint, source, source_record_id, original_title, display_title, display_description, score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`

	insertProcessedQuery = `INSERT INTO processed_sources
		(fingerprint, source, source_record_id, original_title, derived_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`

	selectEmittedColumns = `fingerprint, source,
		COALESCE(source_record_id, '') AS source_record_id,
		COALESCE(original_title, '') AS original_title,
		COALESCE(display_title, '') AS display_title,
		COALESCE(display_description, '') AS display_description,
		score, recorded_at`

	selectProcessedColumns = `fingerprint, source,
		COALESCE(source_record_id, '') AS source_record_id,
		COALESCE(original_title, '') AS original_title,
		derived_count, recorded_at`
)

func tableFor(ns domain.Namespace) (table, columns string, err error) {
	switch ns {
	case domain.NamespaceEmitted:
		return "emitted_artifacts", selectEmittedColumns, nil
	case domain.NamespaceProcessed:
		return "processed_sources", selectProcessedColumns, nil
	default:
		return "", "", storage.UnknownNamespaceError(ns)
	}
}

// Exists reports whether the fingerprint is recorded.
func (r *LedgerRepo) Exists(ctx context.Context, ns domain.Namespace, fingerprint string) (bool, error) {
	table, _, err := tableFor(ns)
	if err != nil {
		return false, err
	}

	var count int
	query := r.db.Rebind(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE fingerprint = ?", table))
	if err := r.db.GetContext(ctx, &count, query, fingerprint); err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return count > 0, nil
}

// Insert stores the entry unless the fingerprint exists.
func (r *LedgerRepo) Insert(ctx context.Context, ns domain.Namespace, e *domain.LedgerEntry) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	recordedAt := e.RecordedAt.UTC()

	switch ns {
	case domain.NamespaceEmitted:
		result, err = r.db.ExecContext(ctx, r.db.Rebind(insertEmittedQuery),
			e.Fingerprint,
			e.Source,
			nullString(e.SourceRecordID),
			nullString(e.OriginalTitle),
			nullString(e.DisplayTitle),
			nullString(e.DisplayDescription),
			e.Score,
			recordedAt,
		)
	case domain.NamespaceProcessed:
		result, err = r.db.ExecContext(ctx, r.db.Rebind(insertProcessedQuery),
			e.Fingerprint,
			e.Source,
			nullString(e.SourceRecordID),
			nullString(e.OriginalTitle),
			e.DerivedCount,
			recordedAt,
		)
	default:
		return false, storage.UnknownNamespaceError(ns)
	}

	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// Get retrieves a single entry.
func (r *LedgerRepo) Get(ctx context.Context, ns domain.Namespace, fingerprint string) (*domain.LedgerEntry, error) {
	table, columns, err := tableFor(ns)
	if err != nil {
		return nil, err
	}

	var entry domain.LedgerEntry
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE fingerprint = ?", columns, table))
	err = r.db.GetContext(ctx, &entry, query, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// Recent returns the newest entries.
func (r *LedgerRepo) Recent(ctx context.Context, ns domain.Namespace, limit int) ([]*domain.LedgerEntry, error) {
	table, columns, err := tableFor(ns)
	if err != nil {
		return nil, err
	}

	var entries []*domain.LedgerEntry
	query := r.db.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY recorded_at DESC LIMIT ?", columns, table,
	))
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// Stats summarises the emitted-artifact ledger.
func (r *LedgerRepo) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	var totals struct {
		Total        int     `db:"total"`
		AverageScore float64 `db:"average_score"`
	}
	err := r.db.GetContext(ctx, &totals,
		`SELECT COUNT(*) AS total, COALESCE(AVG(score), 0) AS average_score FROM emitted_artifacts`)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}

	var rows []struct {
		Source string `db:"source"`
		Count  int    `db:"count"`
	}
	err = r.db.SelectContext(ctx, &rows,
		`SELECT source, COUNT(*) AS count FROM emitted_artifacts GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to get per-source counts: %w", err)
	}

	var processed int
	if err := r.db.GetContext(ctx, &processed, `SELECT COUNT(*) FROM processed_sources`); err != nil {
		return nil, fmt.Errorf("failed to count processed sources: %w", err)
	}

	stats := &domain.LedgerStats{
		Total:        totals.Total,
		AverageScore: totals.AverageScore,
		BySource:     make(map[string]int, len(rows)),
		Processed:    processed,
	}
	for _, row := range rows {
		stats.BySource[row.Source] = row.Count
	}
	return stats, nil
}

// DeleteOlderThan removes entries recorded before cutoff.
func (r *LedgerRepo) DeleteOlderThan(ctx context.Context, ns domain.Namespace, cutoff time.Time) (int64, error) {
	table, _, err := tableFor(ns)
	if err != nil {
		return 0, err
	}

	query := r.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE recorded_at < ?", table))
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger entries: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
