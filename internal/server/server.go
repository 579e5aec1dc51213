package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"msgbox/internal/metrics"
	"msgbox/internal/pipeline"
	"msgbox/internal/store"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// ReadyTimeout bounds the store ping in the readiness probe
	ReadyTimeout = 3 * time.Second

	WebhookPath = "/webhook"
)

// Server wires the pipeline, store and metrics to HTTP routes
type Server struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// WebhookRateLimit is requests per minute per client IP on the webhook, 0 disables
	WebhookRateLimit int

	secretConfigured bool
}

// NewServer creates a server verifying webhooks against secret and storing into st
func NewServer(st store.Store, secret string, logger *slog.Logger) *Server {
	return &Server{
		Store:            st,
		Pipeline:         pipeline.New(secret, st),
		Metrics:          metrics.New(),
		Logger:           logger,
		secretConfigured: secret != "",
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// observe must wrap recoverer so a recovered panic is still emitted as a 500
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusNotFound, detail("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusMethodNotAllowed, detail("method not allowed"))
	})

	if s.WebhookRateLimit > 0 {
		r.With(NewWebhookRateLimitMiddleware(s.WebhookRateLimit, s.Logger)).Post(WebhookPath, s.HandleWebhook)
	} else {
		r.Post(WebhookPath, s.HandleWebhook)
	}

	r.Get("/messages", s.HandleListMessages)
	r.Get("/stats", s.HandleStats)
	r.Get("/health/live", s.HandleLive)
	r.Get("/health/ready", s.HandleReady)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	return r
}

// Run listens on addr and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve handles requests on ln until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down HTTP server", "timeout", shutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
