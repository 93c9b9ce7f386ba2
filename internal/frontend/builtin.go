package frontend

import (
	"context"
	"fmt"
	"log/slog"

	"ex-scribe/internal/frontend/telegram"
	"ex-scribe/internal/frontend/web"
	"ex-scribe/pkg/scribe"
)

// NewBuiltinRegistry constructs the frontend registry with every built-in type.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: web.FrontendType,
			Builder: func(
				_ context.Context,
				definition Definition,
				services Services,
				logger *slog.Logger,
			) (scribe.Frontend, error) {
				cfg, err := web.ParseConfig(definition.Config)
				if err != nil {
					return nil, err
				}
				server, err := web.New(definition.Name, cfg, services.Dispatcher, services.Cache, logger)
				if err != nil {
					return nil, fmt.Errorf("build web frontend: %w", err)
				}

				return server, nil
			},
		},
		{
			Type: telegram.FrontendType,
			Builder: func(
				_ context.Context,
				definition Definition,
				services Services,
				logger *slog.Logger,
			) (scribe.Frontend, error) {
				cfg, err := telegram.ParseConfig(definition.Config)
				if err != nil {
					return nil, err
				}
				bot, err := telegram.New(definition.Name, cfg, services.Dispatcher, services.Cache, logger)
				if err != nil {
					return nil, fmt.Errorf("build telegram frontend: %w", err)
				}

				return bot, nil
			},
		},
	})
}
