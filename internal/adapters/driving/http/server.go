package http

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggo/swag"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
	"github.com/custodia-labs/collect-core/internal/metrics"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// TriggerSource resolves triggers referenced by the API.
type TriggerSource interface {
	GetTrigger(ctx context.Context, id string) (*domain.Trigger, error)
}

// EventSource streams document changes to realtime clients.
type EventSource interface {
	Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger
	origins    []string

	// Services
	collect  driving.CollectService
	triggers TriggerSource
	tokens   driven.TokenService
	events   EventSource
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Infrastructure health checks, by name
	checks map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// AllowedOrigins enables CORS for the listed origins ("*" for any)
	AllowedOrigins []string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Dependencies are the services the API serves.
type Dependencies struct {
	Collect  driving.CollectService
	Triggers TriggerSource
	Tokens   driven.TokenService

	// Events feeds /api/v1/realtime. Optional.
	Events EventSource

	Metrics *metrics.Metrics

	// Gatherer serves /metrics. Optional.
	Gatherer prometheus.Gatherer

	// Checks are pinged by /ready
	Checks map[string]Pinger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:   http.NewServeMux(),
		version:  cfg.Version,
		logger:   logger,
		origins:  cfg.AllowedOrigins,
		collect:  deps.Collect,
		triggers: deps.Triggers,
		tokens:   deps.Tokens,
		events:   deps.Events,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		checks:   deps.Checks,
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// connect calls may block up to the enqueue delay, or the whole
		// workflow when waiting is requested
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in the global middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = NewLoggingMiddleware(s.logger).Handler(h)
	if len(s.origins) > 0 {
		h = NewCORSMiddleware(s.origins).Handler(h)
	}
	return NewRecoveryMiddleware(s.logger).Handler(h)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	auth := NewAuthMiddleware(s.tokens)
	read := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(h)
	}
	write := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(auth.RequireWrite(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)
	if s.gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Catalogue
	s.router.Handle("GET /api/v1/categories", read(s.handleListCategories))
	s.router.Handle("GET /api/v1/konnectors", read(s.handleListKonnectors))
	s.router.Handle("GET /api/v1/konnectors/{slug}", read(s.handleGetKonnector))
	s.router.Handle("GET /api/v1/konnectors/{slug}/status", read(s.handleKonnectorStatus))

	// Accounts
	s.router.Handle("POST /api/v1/konnectors/{slug}/accounts", write(s.handleConnectAccount))
	s.router.Handle("DELETE /api/v1/konnectors/{slug}/accounts", write(s.handleDeleteAccounts))
	s.router.Handle("PUT /api/v1/konnectors/{slug}/accounts/{id}", write(s.handleUpdateAccount))
	s.router.Handle("POST /api/v1/konnectors/{slug}/accounts/{id}/run", write(s.handleRunAccount))

	// Connections and queue
	s.router.Handle("GET /api/v1/connections", read(s.handleListConnections))
	s.router.Handle("GET /api/v1/configured", read(s.handleConfiguredKonnectors))
	s.router.Handle("GET /api/v1/queue", read(s.handleQueue))
	s.router.Handle("DELETE /api/v1/queue", write(s.handlePurgeQueue))
	s.router.Handle("POST /api/v1/triggers/{id}/launch", write(s.handleLaunchTrigger))
	s.router.Handle("DELETE /api/v1/triggers/{id}", write(s.handleDeleteConnection))

	// Realtime
	if s.events != nil {
		s.router.Handle("GET /api/v1/realtime", read(s.handleRealtime))
	}
}

// handleSwaggerDoc serves the registered OpenAPI document.
func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
