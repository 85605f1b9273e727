package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-health/readmit/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline domain.PipelineConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, pipeline, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no dataset required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(DatasetMiddleware)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", handler.CreateRun)
			r.Get("/", handler.ListRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetRun)
				r.Get("/kpi", handler.GetKPI)
				r.Get("/diagnosis", handler.ListDiagnosis)
				r.Get("/hospitals", handler.ListHospitals)
				r.Get("/risk", handler.ListRisk)
				r.Get("/risk/{memberId}", handler.ExplainRisk)
				r.Get("/interventions", handler.ListInterventions)
				r.Post("/simulate", handler.Simulate)
			})
		})

		r.Get("/scenarios", handler.ListScenarios)
		r.Post("/scenarios", handler.SaveScenario)
		r.Delete("/scenarios/{name}", handler.DeleteScenario)
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
