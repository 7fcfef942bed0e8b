package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

// Server wraps the stdlib http.Server: construct once at startup, Start
// blocks until Shutdown or a listener error.
type Server struct {
	httpServer *http.Server
	logger     arbor.ILogger
}

// NewServer builds a Server listening on host:port, serving mux.
func NewServer(host string, port int, mux http.Handler, logger arbor.ILogger) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // WebSocket connections must not be cut by a fixed write deadline.
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the HTTP server until Shutdown is called or it fails.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
