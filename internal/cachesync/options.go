package cachesync

import (
	"log/slog"
	"time"
)

const defaultLockTimeout = 250 * time.Millisecond

type config struct {
	logger        *slog.Logger
	lockTimeout   time.Duration
	queueCapacity int
}

// Option mutates cache subsystem configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:      slog.Default(),
		lockTimeout: defaultLockTimeout,
	}
}

// WithLogger configures structured logging for the subsystem.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithLockTimeout bounds how long snapshot operations wait for the store lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.lockTimeout = timeout
		}
	}
}

// WithQueueCapacity bounds the number of pending edits. Zero means unbounded.
func WithQueueCapacity(capacity int) Option {
	return func(cfg *config) {
		if capacity >= 0 {
			cfg.queueCapacity = capacity
		}
	}
}
