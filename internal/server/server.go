// Package server exposes the daemon's HTTP control API: node and instance
// CRUD, introspection, webhook ingestion, and a websocket event stream.
// Entities serialize field-for-field from internal/types.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/conneroisu/livegen/internal/config"
	"github.com/conneroisu/livegen/internal/engine"
	"github.com/conneroisu/livegen/internal/logging"
)

// Server is the daemon's control API server.
type Server struct {
	engine *engine.Engine
	logger logging.Logger
	http   *http.Server
}

// New builds a control API server around an engine.
func New(cfg *config.Config, eng *engine.Engine, logger logging.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger.WithComponent("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("POST /api/nodes", s.handleRegisterNode)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.handleUnregisterNode)
	mux.HandleFunc("GET /api/nodes/{id}/inputs", s.handleNodeInputs)
	mux.HandleFunc("GET /api/nodes/{id}/file-inputs", s.handleNodeFileInputs)
	mux.HandleFunc("GET /api/nodes/{id}/logs", s.handleNodeLogs)
	mux.HandleFunc("POST /api/nodes/{id}/instances", s.handleCreateInstance)
	mux.HandleFunc("POST /api/nodes/{id}/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /api/instances", s.handleListInstances)
	mux.HandleFunc("GET /api/watched-files", s.handleWatchedFiles)
	mux.HandleFunc("GET /api/watched-files/{id}", s.handleWatchedFiles)
	mux.HandleFunc("GET /api/tail-buffer", s.handleTailBuffer)
	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("POST /api/webhooks/{id}", s.handleWebhook)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port),
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe serves the API until the listener fails or Shutdown is
// called. http.ErrServerClosed is returned on clean shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info(context.Background(), "control API listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String())
	})
}
