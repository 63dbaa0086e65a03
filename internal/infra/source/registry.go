package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/vietddude/harvester/internal/core/config"
)

// Constructor builds a source from its configuration.
type Constructor func(ctx context.Context, cfg config.SourceConfig) (Source, error)

// Registry maps a source type to its constructor.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor for typ, replacing any previous one.
func (r *Registry) Register(typ string, ctor Constructor) {
	r.ctors[typ] = ctor
}

// Types returns the registered type keys.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs every enabled source in configuration order.
func (r *Registry) Build(ctx context.Context, cfgs []config.SourceConfig) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))

	for _, cfg := range cfgs {
		if cfg.Disabled {
			continue
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate source name %q", cfg.Name)
		}
		seen[cfg.Name] = true

		ctor, ok := r.ctors[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("unknown source type %q for %q (known: %v)", cfg.Type, cfg.Name, r.Types())
		}
		src, err := ctor(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build source %q: %w", cfg.Name, err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}
