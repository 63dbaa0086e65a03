package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

const sample = `{
  "records": [
    {"id": "task-001", "title": "Pay invoice", "description": "ACME", "priority": "high", "due_date": "2025-12-15"},
    {"title": "No id here", "priority": "critical", "created_at": "2025-01-02T10:00:00Z"},
    {"id": "broken"},
    {"id": 42, "title": "Numeric id", "kind": "message", "due_date": "not a date"},
    {"id": 43, "title": "Numeric id", "kind": "message"}
  ]
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestSource_FetchSkipsMalformed(t *testing.T) {
	src, err := New("local", writeFile(t, sample), "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	src.Decoder().SetClock(func() time.Time { return fixed })

	if !src.IsConfigured() {
		t.Fatal("expected source to be configured")
	}
	if !src.Connect(context.Background()) {
		t.Fatalf("Connect failed: %v", src.LastError())
	}

	records, err := src.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 valid records, got %d", len(records))
	}

	first := records[0]
	if first.ID != "task-001" || first.Source != "local" || first.Priority != domain.PriorityHigh {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.DueAt == nil || first.DueAt.Format("2006-01-02") != "2025-12-15" {
		t.Errorf("unexpected due date: %v", first.DueAt)
	}
	if !first.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want clock time", first.CreatedAt)
	}

	if records[1].ID != "local-001" {
		t.Errorf("default id = %q, want local-001", records[1].ID)
	}
	if records[1].Priority != domain.PriorityUrgent {
		t.Errorf("priority = %q, want urgent", records[1].Priority)
	}

	if records[2].ID != "43" || records[2].Kind != domain.RecordKindMessage {
		t.Errorf("unexpected numeric record: %+v", records[2])
	}
}

func TestSource_FetchLimit(t *testing.T) {
	src, _ := New("local", writeFile(t, sample), domain.RecordKindTask, "")
	src.Connect(context.Background())

	records, err := src.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestSource_ConnectFailures(t *testing.T) {
	missing, _ := New("local", filepath.Join(t.TempDir(), "missing.json"), "", "")
	if missing.IsConfigured() {
		t.Error("missing file should not be configured")
	}
	if missing.Connect(context.Background()) {
		t.Fatal("Connect should fail for a missing file")
	}
	if missing.LastError() == nil {
		t.Fatal("LastError should explain the failure")
	}
	if sev := recovery.Classify(missing.LastError()); sev != recovery.Recoverable {
		t.Errorf("missing file severity = %v, want recoverable", sev)
	}

	garbage, _ := New("local", writeFile(t, "{not json"), "", "")
	if garbage.Connect(context.Background()) {
		t.Error("Connect should fail on invalid JSON")
	}
}

func TestSource_FetchBeforeConnect(t *testing.T) {
	src, _ := New("local", writeFile(t, sample), "", "")
	_, err := src.Fetch(context.Background(), 0)
	if recovery.Classify(err) != recovery.Fatal {
		t.Errorf("fetch before connect should be fatal, got %v", err)
	}
}

func TestSource_ExtraSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	schema := `{"type": "object", "required": ["category"]}`
	if err := os.WriteFile(schemaPath, []byte(schema), 0o600); err != nil {
		t.Fatal(err)
	}

	content := `{"records": [{"id": "a", "title": "A", "category": "Work"}, {"id": "b", "title": "B"}]}`
	src, err := Factory(context.Background(), config.SourceConfig{
		Name:   "strict",
		Type:   Type,
		Path:   writeFile(t, content),
		Schema: schemaPath,
	})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	src.Connect(context.Background())

	records, _ := src.Fetch(context.Background(), 0)
	if len(records) != 1 || records[0].ID != "a" {
		t.Errorf("expected only the record with a category, got %d", len(records))
	}
}

func TestNew_BadSchemaIsFatal(t *testing.T) {
	_, err := New("local", "x.json", "", filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing schema")
	}
	if recovery.Classify(err) != recovery.Fatal {
		t.Errorf("schema errors should be fatal, got %v", recovery.Classify(err))
	}
}
