package source

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// RecordSchema is the JSON schema every raw record must satisfy.
const RecordSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "id":          {"type": ["string", "integer"]},
    "title":       {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "priority":    {"type": ["string", "null"]},
    "category":    {"type": ["string", "null"]},
    "kind":        {"enum": ["task", "message"]},
    "due_date":    {"type": ["string", "null"]},
    "created_at":  {"type": ["string", "null"]}
  }
}`

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Decoder validates and converts raw JSON records.
type Decoder struct {
	source  string
	kind    domain.RecordKind
	schemas []*gojsonschema.Schema
	now     func() time.Time
}

// NewDecoder compiles the record schema and, if schemaPath is set, an extra
// user schema. Schema errors are configuration errors and are Fatal.
func NewDecoder(source string, kind domain.RecordKind, schemaPath string) (*Decoder, error) {
	if kind == "" {
		kind = domain.RecordKindTask
	}

	base, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(RecordSchema))
	if err != nil {
		return nil, recovery.NewFatal("compile record schema", err)
	}
	d := &Decoder{
		source:  source,
		kind:    kind,
		schemas: []*gojsonschema.Schema{base},
		now:     time.Now,
	}

	if schemaPath != "" {
		abs, err := filepath.Abs(schemaPath)
		if err != nil {
			return nil, recovery.NewFatal("resolve schema path", err)
		}
		extra, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
		if err != nil {
			return nil, recovery.NewFatal("compile schema "+schemaPath, err)
		}
		d.schemas = append(d.schemas, extra)
	}

	return d, nil
}

// SetClock replaces the clock used for missing creation times.
func (d *Decoder) SetClock(now func() time.Time) {
	d.now = now
}

// Decode validates raw and converts it into a record. defaultID is used
// when the payload carries no id.
func (d *Decoder) Decode(raw []byte, defaultID string) (*domain.Record, error) {
	for _, schema := range d.schemas {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err := formatSchemaError(result, err); err != nil {
			return nil, err
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	rec := &domain.Record{
		ID:          stringField(fields, "id"),
		Source:      d.source,
		Kind:        d.kind,
		Title:       strings.TrimSpace(stringField(fields, "title")),
		Description: stringField(fields, "description"),
		Priority:    domain.ParsePriority(stringField(fields, "priority")),
		Category:    stringField(fields, "category"),
		Raw:         fields,
	}
	if rec.ID == "" {
		rec.ID = defaultID
	}
	if kind := stringField(fields, "kind"); kind != "" {
		rec.Kind = domain.RecordKind(kind)
	}

	if s := stringField(fields, "due_date"); s != "" {
		due, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("invalid due_date %q: %w", s, err)
		}
		rec.DueAt = &due
	}

	rec.CreatedAt = d.now()
	if s := stringField(fields, "created_at"); s != "" {
		created, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", s, err)
		}
		rec.CreatedAt = created
	}

	return rec, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// formatSchemaError creates a readable error from gojsonschema results.
func formatSchemaError(result *gojsonschema.Result, err error) error {
	if err != nil {
		return fmt.Errorf("schema validation system error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errMsg string
	for _, desc := range result.Errors() {
		errMsg += fmt.Sprintf("- %s; ", desc)
	}
	return fmt.Errorf("schema validation failed: %s", errMsg)
}
