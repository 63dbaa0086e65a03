// Package source defines the connector contract for record sources.
package source

import (
	"context"
	"sync"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Source is a connector that yields records.
type Source interface {
	// Name returns the unique source name used for health and ledger keys
	Name() string

	// IsConfigured reports whether the source has what it needs to connect
	IsConfigured() bool

	// Connect prepares the source. It never panics on expected connectivity
	// problems; the reason is kept in LastError instead.
	Connect(ctx context.Context) bool

	// LastError returns the reason of the last failed Connect
	LastError() error

	// Fetch returns up to limit records in source order (0 = source default)
	Fetch(ctx context.Context, limit int) ([]*domain.Record, error)
}

// Acknowledger is implemented by sources that must be told when a record
// has been durably handled.
type Acknowledger interface {
	Ack(ctx context.Context, record *domain.Record) error
}

// Base stores the last connect error for embedding connectors.
type Base struct {
	mu      sync.Mutex
	lastErr error
}

// LastError returns the last recorded error.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// SetLastError records err. A nil err clears it.
func (b *Base) SetLastError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
}
