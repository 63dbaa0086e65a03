package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
)

func TestLedger_MarkOnce(t *testing.T) {
	l := New(memory.NewLedgerRepo())
	ctx := context.Background()
	fp := SourceFingerprint("json", "task-001")

	marked, err := l.IsMarked(ctx, domain.NamespaceProcessed, fp)
	if err != nil || marked {
		t.Fatalf("IsMarked before mark = %v, %v", marked, err)
	}

	for i, want := range []bool{true, false, false} {
		got, err := l.Mark(ctx, domain.NamespaceProcessed, &domain.LedgerEntry{
			Fingerprint:   fp,
			Source:        "json",
			OriginalTitle: "call " + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatalf("Mark #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("Mark #%d = %v, want %v", i, got, want)
		}
	}

	entry, err := l.Get(ctx, domain.NamespaceProcessed, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.OriginalTitle != "call a" {
		t.Errorf("payload changed after duplicate marks: %q", entry.OriginalTitle)
	}
	if entry.RecordedAt.IsZero() {
		t.Error("RecordedAt should be set on mark")
	}
}

func TestLedger_MarkRequiresFingerprint(t *testing.T) {
	l := New(memory.NewLedgerRepo())
	if _, err := l.Mark(context.Background(), domain.NamespaceEmitted, &domain.LedgerEntry{}); err == nil {
		t.Error("expected error for empty fingerprint")
	}
}

type failingRepo struct {
	storage.LedgerRepository
}

func (failingRepo) Insert(ctx context.Context, ns domain.Namespace, e *domain.LedgerEntry) (bool, error) {
	return false, errors.New("disk full")
}

func TestLedger_MarkPropagatesStorageErrors(t *testing.T) {
	l := New(failingRepo{memory.NewLedgerRepo()})
	_, err := l.Mark(context.Background(), domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "x"})
	if err == nil {
		t.Fatal("storage errors must not be swallowed")
	}
}

func TestLedger_PurgeOlderThan(t *testing.T) {
	repo := memory.NewLedgerRepo()
	l := New(repo)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	old := now.Add(-91 * 24 * time.Hour)
	fresh := now.Add(-24 * time.Hour)
	l.Mark(ctx, domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "e-old", RecordedAt: old})
	l.Mark(ctx, domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "e-new", RecordedAt: fresh})
	l.Mark(ctx, domain.NamespaceProcessed, &domain.LedgerEntry{Fingerprint: "p-old", RecordedAt: old})

	removed, err := l.PurgeOlderThan(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if ok, _ := l.IsMarked(ctx, domain.NamespaceEmitted, "e-new"); !ok {
		t.Error("fresh entry should survive the purge")
	}

	if _, err := l.PurgeOlderThan(ctx, 0); err == nil {
		t.Error("expected error for non-positive age")
	}
}

func TestLedger_Stats(t *testing.T) {
	l := New(memory.NewLedgerRepo())
	ctx := context.Background()
	l.Mark(ctx, domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "1", Source: "json", Score: 100})
	l.Mark(ctx, domain.NamespaceEmitted, &domain.LedgerEntry{Fingerprint: "2", Source: "json", Score: 60})

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.AverageScore != 80 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
