package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Server wraps the HTTP server around the route tree.
type Server struct {
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer creates a server for the given handlers.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Address(),
			Handler:           SetupRoutes(h),
			ReadHeaderTimeout: 10 * time.Second,
			// no WriteTimeout: the SSE stream holds its response open
		},
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.cfg.Address())
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
