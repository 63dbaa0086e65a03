package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

var _ storage.LedgerRepository = (*LedgerRepo)(nil)

// LedgerRepo keeps the ledger in process memory.
type LedgerRepo struct {
	entries map[domain.Namespace]map[string]domain.LedgerEntry
	mu      sync.RWMutex
}

func NewLedgerRepo() *LedgerRepo {
	entries := make(map[domain.Namespace]map[string]domain.LedgerEntry)
	for _, ns := range domain.Namespaces {
		entries[ns] = make(map[string]domain.LedgerEntry)
	}
	return &LedgerRepo{entries: entries}
}

func (r *LedgerRepo) table(ns domain.Namespace) (map[string]domain.LedgerEntry, error) {
	t, ok := r.entries[ns]
	if !ok {
		return nil, storage.UnknownNamespaceError(ns)
	}
	return t, nil
}

func (r *LedgerRepo) Exists(ctx context.Context, ns domain.Namespace, fingerprint string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.table(ns)
	if err != nil {
		return false, err
	}
	_, ok := t[fingerprint]
	return ok, nil
}

func (r *LedgerRepo) Insert(ctx context.Context, ns domain.Namespace, entry *domain.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(ns)
	if err != nil {
		return false, err
	}
	if _, ok := t[entry.Fingerprint]; ok {
		return false, nil
	}
	t[entry.Fingerprint] = *entry
	return true, nil
}

func (r *LedgerRepo) Get(ctx context.Context, ns domain.Namespace, fingerprint string) (*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.table(ns)
	if err != nil {
		return nil, err
	}
	e, ok := t[fingerprint]
	if !ok {
		return nil, storage.ErrEntryNotFound
	}
	return &e, nil
}

func (r *LedgerRepo) Recent(ctx context.Context, ns domain.Namespace, limit int) ([]*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.table(ns)
	if err != nil {
		return nil, err
	}

	result := make([]*domain.LedgerEntry, 0, len(t))
	for _, e := range t {
		e := e
		result = append(result, &e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordedAt.After(result[j].RecordedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *LedgerRepo) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.LedgerStats{
		BySource:  make(map[string]int),
		Processed: len(r.entries[domain.NamespaceProcessed]),
	}
	sum := 0
	for _, e := range r.entries[domain.NamespaceEmitted] {
		stats.Total++
		stats.BySource[e.Source]++
		sum += e.Score
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(sum) / float64(stats.Total)
	}
	return stats, nil
}

func (r *LedgerRepo) DeleteOlderThan(ctx context.Context, ns domain.Namespace, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(ns)
	if err != nil {
		return 0, err
	}

	var removed int64
	for fp, e := range t {
		if e.RecordedAt.Before(cutoff) {
			delete(t, fp)
			removed++
		}
	}
	return removed, nil
}
