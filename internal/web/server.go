// Package web exposes the ingestion pipeline over HTTP.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gradeinsight/gradeport/internal/config"
	"github.com/gradeinsight/gradeport/internal/ingest"
)

// Server is the HTTP front of the grade upload service.
type Server struct {
	ingest  *ingest.Service
	cfg     config.ServerConfig
	router  *chi.Mux
	server  *http.Server
	maxBody int64
}

// NewServer builds the router. maxBody caps request bodies; it should match
// the upload size limit so oversized files are cut off at the socket.
func NewServer(svc *ingest.Service, cfg config.ServerConfig, maxBody int64) *Server {
	s := &Server{
		ingest:  svc,
		cfg:     cfg,
		router:  chi.NewRouter(),
		maxBody: maxBody,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Minute))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/tenants/{tenantID}/uploads", s.handleUpload)
	})
}

// Start begins listening on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
