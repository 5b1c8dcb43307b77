// Package httpserver provides the HTTP REST API of the records service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/database"
	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/lifecycle"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/repository"
)

// DocumentService is the lifecycle API served over HTTP.
// *lifecycle.Service satisfies it.
type DocumentService interface {
	Create(ctx context.Context, in lifecycle.CreateInput) (*domain.Document, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID, clearance int) (*domain.Document, error)
	List(ctx context.Context, filter repository.DocumentFilter, clearance int) ([]*domain.Document, int64, error)
	Classify(ctx context.Context, in lifecycle.ClassifyInput) (*lifecycle.ClassifyResult, error)
	Transition(ctx context.Context, in lifecycle.TransitionInput) (*domain.Document, error)
}

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	documents  DocumentService
	health     HealthChecker
	limiter    *tenantLimiter
	validate   *validator.Validate
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimitRPS and RateLimitBurst bound mutating requests per tenant.
	// A zero RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	documents DocumentService,
	health HealthChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		documents: documents,
		health:    health,
		validate:  newValidator(),
		logger:    logger.With().Str("component", "http-server").Logger(),
		metrics:   metrics,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newTenantLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestContextMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(tenantContextMiddleware)

		r.Get("/documents", s.listDocuments)
		r.Get("/documents/{documentID}", s.getDocument)

		r.Group(func(r chi.Router) {
			r.Use(requireActorMiddleware)
			r.Use(s.rateLimitMiddleware)

			r.Post("/documents", s.createDocument)
			r.Post("/documents/{documentID}/classify", s.classifyDocument)
			r.Post("/documents/{documentID}/transitions/{transition}", s.transitionDocument)
		})
	})

	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the database is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
