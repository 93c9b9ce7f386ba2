package frontend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"ex-scribe/pkg/scribe"

	"golang.org/x/sync/errgroup"
)

// Definition describes one configured frontend entry.
type Definition struct {
	// Name is the stable configured frontend instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores frontend-type-specific JSON payload.
	Config []byte
}

// Services are the engine-side collaborators handed to every frontend builder.
type Services struct {
	// Dispatcher submits requests and exposes notifications.
	Dispatcher scribe.Dispatcher
	// Cache is the UI-side transcript facade.
	Cache scribe.TranscriptCache
}

func (s Services) validate() error {
	if s.Dispatcher == nil {
		return fmt.Errorf("missing dispatcher")
	}
	if s.Cache == nil {
		return fmt.Errorf("missing transcript cache")
	}

	return nil
}

// Runtime contains one fully built frontend instance.
type Runtime struct {
	// Name echoes the definition name.
	Name string
	// Type echoes the definition type.
	Type string
	// Frontend is the runnable surface.
	Frontend scribe.Frontend
}

// BuilderFunc builds one frontend from one configured definition.
type BuilderFunc func(
	ctx context.Context,
	definition Definition,
	services Services,
	logger *slog.Logger,
) (scribe.Frontend, error)

// Descriptor binds one frontend type token to its builder.
type Descriptor struct {
	// Type is the frontend type token from configuration (for example "web").
	Type string
	// Builder constructs one frontend instance for this type.
	Builder BuilderFunc
}

// Registry maps frontend types to builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable frontend registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{builders: builders, types: types}, nil
}

// Types returns all registered frontend types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// BuildEnabled builds all enabled frontend definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	services Services,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build frontends: nil registry")
	}
	if err := services.validate(); err != nil {
		return nil, fmt.Errorf("build frontends: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build frontend: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build frontend %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build frontend %s: empty type", definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build frontend %s type %s: unsupported type", definition.Name, definition.Type)
		}

		built, err := builder(ctx, definition, services, logger.With("frontend", definition.Name))
		if err != nil {
			return nil, fmt.Errorf("build frontend %s type %s: %w", definition.Name, definition.Type, err)
		}
		if built == nil {
			return nil, fmt.Errorf("build frontend %s type %s: nil frontend", definition.Name, definition.Type)
		}

		runtimes = append(runtimes, Runtime{
			Name:     definition.Name,
			Type:     definition.Type,
			Frontend: built,
		})
	}

	return runtimes, nil
}

// RunAll runs every runtime until ctx is canceled or one of them fails.
//
// A failing runtime cancels the others; the first error is returned.
func RunAll(ctx context.Context, runtimes []Runtime, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, runtime := range runtimes {
		group.Go(func() error {
			logger.InfoContext(groupCtx, "frontend started", "frontend", runtime.Name, "type", runtime.Type)
			if err := runtime.Frontend.Run(groupCtx); err != nil {
				return fmt.Errorf("run frontend %s: %w", runtime.Name, err)
			}
			logger.InfoContext(groupCtx, "frontend stopped", "frontend", runtime.Name)

			return nil
		})
	}

	return group.Wait()
}
