// Package server provides the HTTP API for the leafid engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/catalog"
	"github.com/verdantlabs/leafid/internal/config"
	"github.com/verdantlabs/leafid/internal/records"
	"github.com/verdantlabs/leafid/internal/retrieval"
	"github.com/verdantlabs/leafid/internal/store"
)

// Server is the HTTP server for the leafid API.
type Server struct {
	coordinator *retrieval.Coordinator
	service     *records.Service
	store       store.Store
	loader      *catalog.Loader
	indexName   string
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	coordinator *retrieval.Coordinator,
	service *records.Service,
	st store.Store,
	loader *catalog.Loader,
	indexName string,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		coordinator: coordinator,
		service:     service,
		store:       st,
		loader:      loader,
		indexName:   indexName,
		config:      cfg,
		logger:      logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Routes builds the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/v1/identify", s.handleIdentify)
	r.Get("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/records", s.handleUpsertRecord)
	r.Get("/api/v1/records/{id}", s.handleGetRecord)
	r.Delete("/api/v1/records/{id}", s.handleDeleteRecord)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
