package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// SweepTrigger runs one refresh sweep on demand. services.Scheduler
// implements it and takes the distributed lock first.
type SweepTrigger interface {
	TriggerNow(ctx context.Context) (*domain.SweepSummary, error)
}

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveHTTPRequest(route, method, status string, duration time.Duration)
	Handler() http.Handler
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	integrations driving.IntegrationService
	sweeper      driving.RefreshSweeper
	trigger      SweepTrigger
	auth         driven.AuthAdapter
	adminToken   string

	// Infrastructure
	metrics RequestObserver
	store   Pinger // integration store health check
	lock    Pinger // lock backend health check (optional)
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// AdminToken authorizes operator routes through the X-Admin-Token header.
	// Empty disables the header; operator JWTs still work.
	AdminToken string

	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Deps holds the collaborators the server routes to.
type Deps struct {
	Integrations driving.IntegrationService
	Sweeper      driving.RefreshSweeper
	Trigger      SweepTrigger
	Auth         driven.AuthAdapter
	Metrics      RequestObserver // optional
	Store        Pinger
	Lock         Pinger // optional
	Logger       *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:       http.NewServeMux(),
		version:      cfg.Version,
		logger:       logger,
		integrations: deps.Integrations,
		sweeper:      deps.Sweeper,
		trigger:      deps.Trigger,
		auth:         deps.Auth,
		adminToken:   cfg.AdminToken,
		metrics:      deps.Metrics,
		store:        deps.Store,
		lock:         deps.Lock,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	handler = NewCORSMiddleware(cfg.CORSOrigins).Handler(handler)
	handler = NewLoggingMiddleware(logger, deps.Metrics).Handler(handler)
	handler = NewRecoveryMiddleware(logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.auth, s.adminToken)
	tenant := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}

	// Integration endpoints (tenant)
	s.router.Handle("GET /api/v1/integrations", tenant(s.handleListIntegrations))
	s.router.Handle("GET /api/v1/integrations/summary", tenant(s.handleIntegrationSummary))
	s.router.Handle("GET /api/v1/integrations/{platform}", tenant(s.handleGetIntegration))
	s.router.Handle("DELETE /api/v1/integrations/{platform}", tenant(s.handleDisconnect))
	s.router.Handle("GET /api/v1/integrations/{platform}/auth-url", tenant(s.handleAuthURL))
	s.router.Handle("POST /api/v1/integrations/{platform}/connect", tenant(s.handleConnect))
	s.router.Handle("POST /api/v1/integrations/{platform}/refresh", tenant(s.handleRefreshNow))
	s.router.Handle("POST /api/v1/integrations/{platform}/test", tenant(s.handleTestConnection))
	s.router.Handle("PATCH /api/v1/integrations/{platform}/config", tenant(s.handleUpdateConfig))

	// Callback is public - receives redirects from the platforms
	s.router.HandleFunc("GET /api/v1/oauth/{platform}/callback", s.handleOAuthCallback)

	// Operator endpoints
	s.router.Handle("POST /api/v1/admin/refresh-sweep",
		authMiddleware.RequireOperator(http.HandlerFunc(s.handleRefreshSweep)))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
