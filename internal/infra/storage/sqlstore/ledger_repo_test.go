package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

func newMockRepo(t *testing.T) (*LedgerRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := NewWithDB(sqlx.NewDb(mockDB, DriverPostgres), DriverPostgres)
	return NewLedgerRepo(db), mock
}

func TestLedgerRepo_InsertEmitted(t *testing.T) {
	repo, mock := newMockRepo(t)

	entry := &domain.LedgerEntry{
		Fingerprint:        "0a4f5ee1a4c7fe0d",
		Source:             "json",
		SourceRecordID:     "task-001",
		OriginalTitle:      "Pay invoice",
		DisplayTitle:       "Pay invoice",
		DisplayDescription: "ACME",
		Score:              85,
		RecordedAt:         time.Now(),
	}

	mock.ExpectExec(`INSERT INTO emitted_artifacts`).
		WithArgs(entry.Fingerprint, "json", "task-001", "Pay invoice", "Pay invoice", "ACME", 85, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Insert(context.Background(), domain.NamespaceEmitted, entry)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_InsertConflictDoNothing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO processed_sources`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Insert(context.Background(), domain.NamespaceProcessed, &domain.LedgerEntry{Fingerprint: "fp", Source: "json"})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_InsertUniqueViolation(t *testing.T) {
	violations := []error{
		&pq.Error{Code: "23505"},
		&pgconn.PgError{Code: "23505"},
		sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey},
	}

	for _, violation := range violations {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`INSERT INTO emitted_artifacts`).WillReturnError(violation)

		ok, err := repo.Insert(context.Background(), domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "fp", Source: "json"})
		assert.NoError(t, err, "unique violation must not surface as an error")
		assert.False(t, ok)
	}
}

func TestLedgerRepo_InsertOtherErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO emitted_artifacts`).WillReturnError(errors.New("disk I/O error"))

	ok, err := repo.Insert(context.Background(), domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "fp"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLedgerRepo_Exists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM processed_sources WHERE fingerprint = \$1`).
		WithArgs("fp").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := repo.Exists(context.Background(), domain.NamespaceProcessed, "fp")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM emitted_artifacts WHERE fingerprint`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint"}))

	_, err := repo.Get(context.Background(), domain.NamespaceEmitted, "missing")
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}

func TestLedgerRepo_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS total`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "average_score"}).AddRow(3, 80.0))
	mock.ExpectQuery(`GROUP BY source`).
		WillReturnRows(sqlmock.NewRows([]string{"source", "count"}).AddRow("json", 2).AddRow("sqs", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_sources`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 80.0, stats.AverageScore)
	assert.Equal(t, map[string]int{"json": 2, "sqs": 1}, stats.BySource)
	assert.Equal(t, 5, stats.Processed)
}

func TestLedgerRepo_DeleteOlderThan(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM emitted_artifacts WHERE recorded_at < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteOlderThan(context.Background(), domain.NamespaceEmitted, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestLedgerRepo_UnknownNamespace(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.Exists(context.Background(), "bogus", "fp")
	assert.Error(t, err)
}

func TestConfig_DriverName(t *testing.T) {
	assert.Equal(t, DriverPostgres, Config{URL: "postgres://u:p@localhost/db"}.DriverName())
	assert.Equal(t, DriverPostgres, Config{URL: "postgresql://localhost/db"}.DriverName())
	assert.Equal(t, DriverSQLite, Config{URL: "harvester.db"}.DriverName())
	assert.Equal(t, DriverPgx, Config{Driver: "pgx", URL: "postgres://localhost/db"}.DriverName())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
}
