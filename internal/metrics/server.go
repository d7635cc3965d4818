package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hajifkd/virtual-ip-host/internal/log"
)

// Server is the HTTP server for Prometheus metrics.
type Server struct {
	addr    string
	path    string
	metrics *Metrics
	logger  log.Logger
	server  *http.Server
	ln      net.Listener
}

// NewServer creates a new metrics server exposing m.
func NewServer(addr, path string, m *Metrics, logger log.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr:    addr,
		path:    path,
		metrics: m,
		logger:  logger,
	}
}

// Start listens on the server address and serves metrics in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", ln.Addr().String()).WithField("path", s.path).Infof("starting metrics server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Errorf("metrics server error")
		}
	}()
	return nil
}

// Addr returns the listening address. Valid after Start.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	s.logger.Infof("metrics server stopped")
	return nil
}
