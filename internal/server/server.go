// Package server exposes the storage service over HTTP.
//
// Endpoints:
//
//	POST /api/v1/ingest       submit a batch of records
//	GET  /api/v1/query        bounded time-range query
//	GET  /api/v1/stats        service statistics
//	POST /api/v1/archive/run  trigger an archive pass
//	GET  /metrics             Prometheus metrics
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/rfistat/internal/config"
	"github.com/xtxerr/rfistat/internal/logging"
	"github.com/xtxerr/rfistat/internal/storage"
)

// Server is the HTTP boundary over a storage service.
type Server struct {
	cfg     *config.Config
	svc     *storage.Service
	log     *slog.Logger
	metrics *metrics

	httpServer *http.Server
	wg         sync.WaitGroup
}

// New creates a server over svc.
func New(cfg *config.Config, svc *storage.Service) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		log:     logging.Component("server"),
		metrics: newMetrics(),
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: s.Router(),
	}

	return s
}

// Router builds the HTTP routes. Exposed so tests can drive the handlers
// through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/archive/run", s.handleArchiveRun).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Use(s.requestIDMiddleware)

	return r
}

// Start begins serving. It returns once the listener is running.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", "addr", s.cfg.Server.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}
