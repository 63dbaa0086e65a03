package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

var (
	// ErrEntryNotFound is returned when a fingerprint is not in the ledger
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// UnknownNamespaceError is returned for a namespace the store does not hold.
func UnknownNamespaceError(ns domain.Namespace) error {
	return fmt.Errorf("unknown ledger namespace %q", ns)
}

// LedgerRepository handles ledger storage operations.
// Implementations must make Insert atomic per fingerprint.
type LedgerRepository interface {
	// Exists reports whether the fingerprint is present in the namespace
	Exists(ctx context.Context, ns domain.Namespace, fingerprint string) (bool, error)

	// Insert stores the entry if its fingerprint is absent.
	// Returns false, nil when the fingerprint already exists.
	Insert(ctx context.Context, ns domain.Namespace, entry *domain.LedgerEntry) (bool, error)

	// Get retrieves a single entry
	Get(ctx context.Context, ns domain.Namespace, fingerprint string) (*domain.LedgerEntry, error)

	// Recent returns the newest entries, newest first
	Recent(ctx context.Context, ns domain.Namespace, limit int) ([]*domain.LedgerEntry, error)

	// Stats summarises the ledger
	Stats(ctx context.Context) (*domain.LedgerStats, error)

	// DeleteOlderThan removes entries recorded before cutoff
	DeleteOlderThan(ctx context.Context, ns domain.Namespace, cutoff time.Time) (int64, error)
}
