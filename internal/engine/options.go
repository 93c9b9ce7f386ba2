package engine

import (
	"context"
	"log/slog"
	"time"

	"ex-scribe/pkg/scribe"
)

const (
	defaultRequestBuffer      = 64
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second
	defaultListenerTimeout    = 2 * time.Second
	defaultRequestTimeout     = 2 * time.Minute
)

// config stores resolved engine runtime settings after option application.
type config struct {
	requestBuffer      int
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	listenerTimeout    time.Duration
	providers          scribe.LLMProviderRegistry
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)
}

// Option mutates engine construction configuration.
type Option func(*config)

// defaultConfig returns production-safe defaults for engine runtime controls.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		requestBuffer:      defaultRequestBuffer,
		shutdownTimeout:    defaultShutdownTimeout,
		subscriptionBuffer: defaultSubscriptionBuffer,
		subscriptionWorker: defaultSubscriptionWorker,
		handlerTimeout:     defaultHandlerTimeout,
		listenerTimeout:    defaultListenerTimeout,
		logger:             logger,
		onAsyncError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "scribe async error", "scope", scope, "error", err)
		},
	}
}

// WithRequestBuffer configures how many submitted requests may wait for the loop.
func WithRequestBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.requestBuffer = size
		}
	}
}

// WithShutdownTimeout configures overall engine shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithDefaultSubscriptionBuffer configures default subscriber queue depth.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.subscriptionBuffer = size
		}
	}
}

// WithDefaultHandlerTimeout configures default per-notification handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithListenerTimeout bounds each synchronous listener hook invocation.
func WithListenerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.listenerTimeout = timeout
		}
	}
}

// WithProviderRegistry configures the LLM providers used for completions.
func WithProviderRegistry(providers scribe.LLMProviderRegistry) Option {
	return func(cfg *config) {
		if providers != nil {
			cfg.providers = providers
		}
	}
}

// WithLogger configures logger used by the engine and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "scribe async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures asynchronous error reporting.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
