package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/rules"
	"github.com/opensource-insurance/merlin/internal/validate"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, invalidator FactInvalidator, calculator *rating.Calculator, validator *validate.Validator, heuristics *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, invalidator, calculator, validator, heuristics, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for broker portals
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Premium quoting
		r.Post("/quotes", handler.CreateQuote)
		r.Get("/quotes/{id}", handler.GetQuote)
		r.Post("/quotes/validate", handler.ValidateQuote)

		// Rating table management
		r.Post("/facts", handler.CreateFact)
		r.Get("/facts", handler.ListFacts)
		r.Get("/facts/{id}", handler.GetFact)
		r.Delete("/facts/{id}", handler.DeleteFact)

		// Heuristic management
		r.Get("/heuristics", handler.ListHeuristics)
		r.Post("/heuristics", handler.CreateHeuristic)
		r.Post("/heuristics/reload", handler.ReloadHeuristics)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
