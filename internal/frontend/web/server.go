package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"ex-scribe/pkg/scribe"
)

// FrontendType is the configuration type token of the web frontend.
const FrontendType = "web"

// Server exposes agent transcripts over JSON routes and streams prompts over
// a websocket.
type Server struct {
	name       string
	cfg        Config
	dispatcher scribe.Dispatcher
	cache      scribe.TranscriptCache
	logger     *slog.Logger
}

// New creates one web frontend bound to dispatcher and cache.
func New(
	name string,
	cfg Config,
	dispatcher scribe.Dispatcher,
	cache scribe.TranscriptCache,
	logger *slog.Logger,
) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("new web frontend %s: nil dispatcher", name)
	}
	if cache == nil {
		return nil, fmt.Errorf("new web frontend %s: nil transcript cache", name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		name:       name,
		cfg:        cfg,
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger,
	}, nil
}

// Name returns the configured frontend instance name.
func (s *Server) Name() string {
	return s.name
}

// Handler returns the routing table served by Run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents", s.withTimeout(s.handleAgents))
	mux.HandleFunc("GET /agents/{agent}/history", s.withTimeout(s.handleHistory))
	mux.HandleFunc("POST /agents/{agent}/messages", s.withTimeout(s.handleAppend))
	mux.HandleFunc("PATCH /agents/{agent}/messages/{index}", s.withTimeout(s.handleModify))
	mux.HandleFunc("DELETE /agents/{agent}/messages/{index}", s.withTimeout(s.handleRemove))
	mux.HandleFunc("GET /agents/{agent}/prompt", s.handlePrompt)

	return mux
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", s.cfg.ListenAddr, err)
	}

	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	s.logger.InfoContext(ctx, "web frontend listening", "addr", listener.Addr().String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web serve: %w", err)
	}

	return nil
}

func (s *Server) withTimeout(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RequestTimeout <= 0 {
			handler(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		handler(w, r.WithContext(ctx))
	}
}

var _ scribe.Frontend = (*Server)(nil)
