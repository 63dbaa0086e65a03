// Package jsonfile reads records from a local JSON file.
//
// Expected format:
//
//	{"records": [{"id": "task-001", "title": "...", "priority": "high", "due_date": "2025-12-15"}]}
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// Type is the registry key for this source.
const Type = "json"

var errNotConnected = errors.New("source not connected, call Connect first")

type document struct {
	Records []json.RawMessage `json:"records"`
}

// Source reads records from a JSON file on every Connect.
type Source struct {
	source.Base

	name    string
	path    string
	decoder *source.Decoder
	log     *slog.Logger

	mu      sync.Mutex
	records []json.RawMessage
}

// New creates a JSON file source.
func New(name, path string, kind domain.RecordKind, schemaPath string) (*Source, error) {
	decoder, err := source.NewDecoder(name, kind, schemaPath)
	if err != nil {
		return nil, err
	}
	return &Source{
		name:    name,
		path:    path,
		decoder: decoder,
		log:     slog.Default().With("source", name),
	}, nil
}

// Factory builds a Source from configuration.
func Factory(ctx context.Context, cfg config.SourceConfig) (source.Source, error) {
	return New(cfg.Name, cfg.Path, domain.RecordKind(cfg.Kind), cfg.Schema)
}

// Decoder exposes the record decoder.
func (s *Source) Decoder() *source.Decoder {
	return s.decoder
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) IsConfigured() bool {
	if s.path == "" {
		return false
	}
	_, err := os.Stat(s.path)
	return err == nil
}

// Connect loads the file. Read and parse failures are kept in LastError.
func (s *Source) Connect(ctx context.Context) bool {
	if s.path == "" {
		s.SetLastError(recovery.NewFatal("connect", errors.New("no file path configured")))
		return false
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.SetLastError(recovery.NewRecoverable("read "+s.path, err))
		return false
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.SetLastError(recovery.NewRecoverable("parse "+s.path, err))
		return false
	}

	s.mu.Lock()
	s.records = doc.Records
	if s.records == nil {
		s.records = []json.RawMessage{}
	}
	s.mu.Unlock()

	s.SetLastError(nil)
	return true
}

// Fetch decodes the loaded records. Malformed entries are skipped.
func (s *Source) Fetch(ctx context.Context, limit int) ([]*domain.Record, error) {
	s.mu.Lock()
	raw := s.records
	s.mu.Unlock()

	if raw == nil {
		return nil, recovery.NewFatal("fetch "+s.name, errNotConnected)
	}

	records := make([]*domain.Record, 0, len(raw))
	for i, item := range raw {
		if limit > 0 && len(records) >= limit {
			break
		}

		rec, err := s.decoder.Decode(item, fmt.Sprintf("%s-%03d", s.name, i))
		if err != nil {
			s.log.Warn("Skipping malformed record", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
