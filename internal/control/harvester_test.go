package control

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/ledger"
	"github.com/vietddude/harvester/internal/infra/storage/sqlstore"
	"github.com/vietddude/harvester/internal/processing/emitter"
)

const recordsJSON = `{
  "records": [
    {"id": "task-001", "title": "Renew passport ASAP", "priority": "urgent", "due_date": "2020-01-01"},
    {"id": "task-002", "title": "Water plants", "priority": "low"}
  ]
}`

func writeRecords(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(recordsJSON), 0o644); err != nil {
		t.Fatalf("failed to write records: %v", err)
	}
	return path
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Sources = []config.SourceConfig{
		{Name: "local", Type: "json", Kind: "task", Path: writeRecords(t)},
	}
	return cfg
}

func TestHarvester_RunOnceIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	h, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	if len(h.Sources()) != 1 {
		t.Fatalf("expected 1 source, got %d", len(h.Sources()))
	}

	first, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if first.Fetched != 2 || first.Emitted != 1 {
		t.Errorf("expected 2 fetched and 1 emitted, got %+v", first)
	}

	second, err := h.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if second.Emitted != 0 || second.Duplicates != 2 {
		t.Errorf("expected only duplicates on rerun, got %+v", second)
	}

	ok, err := h.Ledger().IsMarked(ctx, domain.NamespaceProcessed, ledger.SourceFingerprint("local", "task-002"))
	if err != nil || !ok {
		t.Errorf("expected below-threshold record marked processed, got %v %v", ok, err)
	}
	if h.Health().Get("local").TotalSuccesses != 2 {
		t.Errorf("expected 2 successful fetches, got %d", h.Health().Get("local").TotalSuccesses)
	}
}

func TestHarvester_RunDrainsOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Interval = time.Hour
	ctx := context.Background()

	h, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, err := h.Run(ctx)
		if err != nil {
			t.Errorf("Run failed: %v", err)
			return
		}
		if stats.Iterations != 1 {
			t.Errorf("expected 1 iteration, got %d", stats.Iterations)
		}
	}()

	// Wait for the first cycle to land in the ledger, then drain.
	deadline := time.After(5 * time.Second)
	for {
		stats, err := h.Ledger().Stats(ctx)
		if err == nil && stats.Total == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	h.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestNew_UnknownSourceType(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{Name: "x", Type: "imap"}}

	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown source type") {
		t.Fatalf("expected unknown source type error, got %v", err)
	}
}

func TestProbeSources(t *testing.T) {
	results := ProbeSources(context.Background(), []config.SourceConfig{
		{Name: "local", Type: "json", Kind: "task", Path: writeRecords(t)},
		{Name: "missing", Type: "json", Kind: "task", Path: filepath.Join(t.TempDir(), "nope.json")},
		{Name: "off", Type: "json", Path: "x", Disabled: true},
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Connected {
		t.Errorf("expected local source connected, got %+v", results[0])
	}
	if results[1].Connected || results[1].Error == nil {
		t.Errorf("expected missing file to fail, got %+v", results[1])
	}
	if results[2].Severity != "disabled" {
		t.Errorf("expected disabled source reported, got %+v", results[2])
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, sqlstore.Config{URL: filepath.Join(t.TempDir(), "ledger.db"), ConnectRetries: 1})
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("sqlite3 requires cgo")
		}
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	entry := &domain.LedgerEntry{Fingerprint: ledger.SourceFingerprint("json", "task-001"), Source: "json", SourceRecordID: "task-001"}
	inserted, err := store.Ledger.Mark(ctx, domain.NamespaceProcessed, entry)
	if err != nil || !inserted {
		t.Fatalf("expected first mark to insert, got %v %v", inserted, err)
	}
	inserted, err = store.Ledger.Mark(ctx, domain.NamespaceProcessed, entry)
	if err != nil || inserted {
		t.Fatalf("expected second mark to be a no-op, got %v %v", inserted, err)
	}
}

func TestNewEmitter_FansOutToEveryType(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := config.Default()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Emitter.Type = config.EmitterTypes{"log", "redis"}

	em, err := NewEmitter(cfg)
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	defer em.Close()

	multi, ok := em.(emitter.Multi)
	if !ok || len(multi) != 2 {
		t.Fatalf("expected a fan-out of 2 emitters, got %T", em)
	}

	if err := em.Emit(context.Background(), &domain.Artifact{ID: "a-1", Title: "Sign contract"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	queued, err := mr.List(cfg.Redis.Queue)
	if err != nil {
		t.Fatalf("queue not written: %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("expected 1 queued artifact, got %d", len(queued))
	}
}

func TestNewEmitter_SingleType(t *testing.T) {
	em, err := NewEmitter(config.Default())
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	if _, ok := em.(*emitter.LogEmitter); !ok {
		t.Errorf("expected a plain log emitter, got %T", em)
	}
}
