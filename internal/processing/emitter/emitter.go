// Package emitter delivers artifacts to their destination.
package emitter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Emitter delivers artifacts. Emit must return an error if delivery did not
// happen, so the artifact is not recorded as emitted.
type Emitter interface {
	Emit(ctx context.Context, artifact *domain.Artifact) error
	Close() error
}

// LogEmitter writes artifacts to the structured log.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter creates an emitter that logs to logger, or slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{log: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, artifact *domain.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if artifact == nil {
		return errors.New("nil artifact")
	}

	attrs := []any{
		"id", artifact.ID,
		"source", artifact.Source,
		"record", artifact.RecordID,
		"score", artifact.Score,
		"priority", artifact.Priority,
		"reason", artifact.Reason,
	}
	if artifact.Description != "" {
		attrs = append(attrs, "description", artifact.Description)
	}
	if artifact.DueAt != nil {
		attrs = append(attrs, "due", artifact.DueAt.Format("2006-01-02"))
	}
	e.log.InfoContext(ctx, "Artifact: "+artifact.Title, attrs...)
	return nil
}

func (e *LogEmitter) Close() error {
	return nil
}

// Multi fans an artifact out to several emitters in order and stops at the
// first failure.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, artifact *domain.Artifact) error {
	for _, e := range m {
		if err := e.Emit(ctx, artifact); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}
