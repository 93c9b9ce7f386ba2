package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ex-scribe/internal/cachesync"
	"ex-scribe/internal/engine"
	"ex-scribe/internal/frontend"
	"ex-scribe/pkg/llm"
	llmconfig "ex-scribe/pkg/llm/config"

	"golang.org/x/sync/errgroup"
)

const (
	envConfigFile           = "SCRIBE_CONFIG_FILE"
	defaultConfigFilePath   = "config/scribe.json"
	alternateConfigFilePath = "bin/config/scribe.json"
	defaultShutdownTimeout  = 10 * time.Second
)

type appConfig struct {
	logLevel        slog.Level
	shutdownTimeout time.Duration

	requestBuffer      int
	listenerTimeout    time.Duration
	subscriptionBuffer int
	handlerTimeout     time.Duration

	lockTimeout   time.Duration
	queueCapacity int

	frontends []frontend.Definition
	llm       llmconfig.Config
}

type fileConfig struct {
	LogLevel        string              `json:"log_level"`
	ShutdownTimeout string              `json:"shutdown_timeout"`
	Engine          fileEngineConfig    `json:"engine"`
	Cache           fileCacheConfig     `json:"cache"`
	Frontends       []fileFrontendEntry `json:"frontends"`
	LLM             json.RawMessage     `json:"llm"`
	LLMFile         string              `json:"llm_file"`
}

type fileEngineConfig struct {
	RequestBuffer      *int   `json:"request_buffer"`
	ListenerTimeout    string `json:"listener_timeout"`
	SubscriptionBuffer *int   `json:"subscription_buffer"`
	HandlerTimeout     string `json:"handler_timeout"`
}

type fileCacheConfig struct {
	LockTimeout   string `json:"lock_timeout"`
	QueueCapacity *int   `json:"queue_capacity"`
}

type fileFrontendEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

func run() error {
	registry, err := frontend.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin frontend registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := llm.BuildRegistry(ctx, cfg.llm, nil)
	if err != nil {
		return fmt.Errorf("build llm providers: %w", err)
	}

	eng, cache, err := buildEngine(ctx, logger, cfg, providers)
	if err != nil {
		return err
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.frontends, frontend.Services{
		Dispatcher: eng,
		Cache:      cache.Facade(),
	}, logger)
	if err != nil {
		return fmt.Errorf("build frontends: %w", err)
	}

	return serve(ctx, logger, eng, runtimes)
}

// serve runs the engine and every frontend until ctx is canceled or one fails.
func serve(ctx context.Context, logger *slog.Logger, eng *engine.Engine, runtimes []frontend.Runtime) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := eng.Run(groupCtx); err != nil {
			return fmt.Errorf("run engine: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return frontend.RunAll(groupCtx, runtimes, logger)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// buildEngine wires the cache listeners into a new engine and registers every
// configured agent.
func buildEngine(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	providers *llm.Registry,
) (*engine.Engine, *cachesync.Cache, error) {
	cache, err := cachesync.New(
		cachesync.WithLogger(logger),
		cachesync.WithLockTimeout(cfg.lockTimeout),
		cachesync.WithQueueCapacity(cfg.queueCapacity),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new transcript cache: %w", err)
	}

	options := []engine.Option{
		engine.WithLogger(logger),
		engine.WithShutdownTimeout(cfg.shutdownTimeout),
		engine.WithRequestBuffer(cfg.requestBuffer),
		engine.WithListenerTimeout(cfg.listenerTimeout),
		engine.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		engine.WithDefaultHandlerTimeout(cfg.handlerTimeout),
	}
	if providers != nil {
		options = append(options, engine.WithProviderRegistry(providers))
	}
	eng := engine.New(options...)

	if err := eng.RegisterRequestListener(cache.Reconciler()); err != nil {
		return nil, nil, fmt.Errorf("register reconciliation listener: %w", err)
	}
	if err := eng.RegisterNotificationListener(cache.SnapshotListener()); err != nil {
		return nil, nil, fmt.Errorf("register snapshot listener: %w", err)
	}

	for _, agent := range cfg.llm.Agents {
		transcript, err := agent.Transcript()
		if err != nil {
			return nil, nil, fmt.Errorf("render agent %s: %w", agent.Name, err)
		}
		if err := eng.RegisterAgent(ctx, engine.AgentSpec{
			ID:              agent.Name,
			Provider:        agent.Provider,
			Model:           agent.Model,
			Transcript:      transcript,
			MaxOutputTokens: agent.MaxOutputTokens,
			Temperature:     agent.Temperature,
			RequestTimeout:  agent.RequestTimeout,
			Metadata:        agent.RequestMetadata,
		}); err != nil {
			return nil, nil, fmt.Errorf("register agent %s: %w", agent.Name, err)
		}
	}

	return eng, cache, nil
}

func loadConfig(registry *frontend.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:        slog.LevelInfo,
		shutdownTimeout: defaultShutdownTimeout,
		frontends:       make([]frontend.Definition, 0),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("parse config file %s: trailing content", path)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "shutdown_timeout", raw: parsed.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{field: "engine.listener_timeout", raw: parsed.Engine.ListenerTimeout, target: &cfg.listenerTimeout},
		{field: "engine.handler_timeout", raw: parsed.Engine.HandlerTimeout, target: &cfg.handlerTimeout},
		{field: "cache.lock_timeout", raw: parsed.Cache.LockTimeout, target: &cfg.lockTimeout},
	}
	for _, duration := range durations {
		rawTimeout := strings.TrimSpace(duration.raw)
		if rawTimeout == "" {
			continue
		}
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if timeout <= 0 {
			return fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = timeout
	}

	if parsed.Engine.RequestBuffer != nil {
		if *parsed.Engine.RequestBuffer <= 0 {
			return fmt.Errorf("parse engine.request_buffer: must be > 0")
		}
		cfg.requestBuffer = *parsed.Engine.RequestBuffer
	}
	if parsed.Engine.SubscriptionBuffer != nil {
		if *parsed.Engine.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse engine.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.Engine.SubscriptionBuffer
	}
	if parsed.Cache.QueueCapacity != nil {
		if *parsed.Cache.QueueCapacity < 0 {
			return fmt.Errorf("parse cache.queue_capacity: must be >= 0")
		}
		cfg.queueCapacity = *parsed.Cache.QueueCapacity
	}

	cfg.frontends = make([]frontend.Definition, 0, len(parsed.Frontends))
	for index, entry := range parsed.Frontends {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.frontends = append(cfg.frontends, frontend.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse frontends[%d].config: required", index)
		}
	}

	llmCfg, err := parseLLMSection(parsed, filepath.Dir(path))
	if err != nil {
		return err
	}
	cfg.llm = llmCfg

	return nil
}

// parseLLMSection reads the inline llm object or the file named by llm_file,
// resolved relative to the app config directory.
func parseLLMSection(parsed fileConfig, baseDir string) (llmconfig.Config, error) {
	inline := len(bytes.TrimSpace(parsed.LLM)) > 0 && !bytes.Equal(bytes.TrimSpace(parsed.LLM), []byte("null"))
	llmFile := strings.TrimSpace(parsed.LLMFile)

	switch {
	case inline && llmFile != "":
		return llmconfig.Config{}, fmt.Errorf("parse llm: set either llm or llm_file, not both")
	case inline:
		cfg, err := llmconfig.Parse(parsed.LLM)
		if err != nil {
			return llmconfig.Config{}, fmt.Errorf("parse llm: %w", err)
		}
		return cfg, nil
	case llmFile != "":
		if !filepath.IsAbs(llmFile) {
			llmFile = filepath.Join(baseDir, llmFile)
		}
		cfg, err := llmconfig.LoadFile(llmFile)
		if err != nil {
			return llmconfig.Config{}, fmt.Errorf("parse llm_file: %w", err)
		}
		return cfg, nil
	default:
		return llmconfig.Config{}, fmt.Errorf("parse llm: llm or llm_file is required")
	}
}

func validateAppConfig(cfg *appConfig, registry *frontend.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil frontend registry")
	}

	knownTypes := make(map[string]struct{})
	for _, frontendType := range registry.Types() {
		knownTypes[frontendType] = struct{}{}
	}

	seenNames := make(map[string]struct{}, len(cfg.frontends))
	enabled := 0
	for _, definition := range cfg.frontends {
		if definition.Name == "" {
			return fmt.Errorf("frontends[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("frontends[%s].type is required", definition.Name)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("frontends[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if _, known := knownTypes[definition.Type]; !known {
			return fmt.Errorf("frontends[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		if definition.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled frontend is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
