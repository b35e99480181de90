package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server exposes the liveness and metrics endpoints of a federator.
type Server struct {
	health   HealthChecker
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates a new Server instance listening on port.
// A nil gatherer serves the default Prometheus registry.
func NewServer(health HealthChecker, gatherer prometheus.Gatherer, logger zerolog.Logger, port int) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		health:   health,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("api server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("api server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("api server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
