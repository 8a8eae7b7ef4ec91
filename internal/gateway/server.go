// Package gateway exposes the orchestration engine over HTTP: POST /chat
// and /chat/stream for conversations, plus health and metrics endpoints.
// Boundary concerns live here: authentication, per-caller rate limiting,
// request correlation, and the error-to-status mapping.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/internal/auth"
	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/internal/ratelimit"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Server is the HTTP boundary around the engine.
type Server struct {
	engine  *assistant.Engine
	tokens  *auth.TokenService
	limiter *ratelimit.Limiter
	logger  *observability.Logger
	metrics *observability.Metrics
	config  Config

	httpServer *http.Server
}

// NewServer wires the HTTP boundary.
func NewServer(
	engine *assistant.Engine,
	tokens *auth.TokenService,
	limiter *ratelimit.Limiter,
	logger *observability.Logger,
	metrics *observability.Metrics,
	config Config,
) *Server {
	return &Server{
		engine:  engine,
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		config:  config,
	}
}

// Handler builds the full middleware-wrapped mux, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/chat", s.chatMiddleware(http.HandlerFunc(s.handleChat)))
	mux.Handle("/chat/stream", s.chatMiddleware(http.HandlerFunc(s.handleChatStream)))
	return s.observe(mux)
}

// chatMiddleware applies the boundary checks in order: authentication first,
// then rate limiting, so unauthenticated traffic never consumes a caller's
// budget.
func (s *Server) chatMiddleware(next http.Handler) http.Handler {
	return s.authenticate(s.rateLimit(next))
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info(context.Background(), "http server stopped")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
