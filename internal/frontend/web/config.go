package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	defaultListenAddr        = "127.0.0.1:8089"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultReadLimit         = 32 << 10
)

type fileConfig struct {
	ListenAddr        string   `json:"listen_addr"`
	ReadHeaderTimeout string   `json:"read_header_timeout"`
	RequestTimeout    string   `json:"request_timeout"`
	ShutdownTimeout   string   `json:"shutdown_timeout"`
	AllowedOrigins    []string `json:"allowed_origins"`
	ReadLimit         int64    `json:"read_limit"`
}

// Config is the parsed web frontend configuration.
type Config struct {
	// ListenAddr is the TCP address served by the HTTP listener.
	ListenAddr string
	// ReadHeaderTimeout bounds request header reads.
	ReadHeaderTimeout time.Duration
	// RequestTimeout bounds one JSON request. Websocket prompts are exempt.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds graceful drain after cancellation.
	ShutdownTimeout time.Duration
	// AllowedOrigins lists extra websocket origin patterns.
	AllowedOrigins []string
	// ReadLimit caps one websocket frame from the client.
	ReadLimit int64
}

// DefaultConfig returns the configuration used for an empty payload.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        defaultListenAddr,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		RequestTimeout:    defaultRequestTimeout,
		ShutdownTimeout:   defaultShutdownTimeout,
		ReadLimit:         defaultReadLimit,
	}
}

// ParseConfig decodes one web frontend payload strictly.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse web config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("parse web config: trailing content")
	}

	if addr := strings.TrimSpace(parsed.ListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "read_header_timeout", raw: parsed.ReadHeaderTimeout, target: &cfg.ReadHeaderTimeout},
		{field: "request_timeout", raw: parsed.RequestTimeout, target: &cfg.RequestTimeout},
		{field: "shutdown_timeout", raw: parsed.ShutdownTimeout, target: &cfg.ShutdownTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse web config %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return Config{}, fmt.Errorf("parse web config %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	for index, origin := range parsed.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			return Config{}, fmt.Errorf("parse web config allowed_origins[%d]: empty origin", index)
		}
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
	}
	if parsed.ReadLimit < 0 {
		return Config{}, fmt.Errorf("parse web config read_limit: must be >= 0")
	}
	if parsed.ReadLimit > 0 {
		cfg.ReadLimit = parsed.ReadLimit
	}

	return cfg, nil
}
