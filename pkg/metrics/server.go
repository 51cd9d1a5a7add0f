package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resubd/resubd/pkg/logging"
)

// Server serves the Prometheus scrape endpoint.
type Server struct {
	addr    string
	path    string
	metrics *Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	boundAddr string
}

// NewServer creates a metrics server. Defaults: addr ":9090", path
// "/metrics". A nil logger disables logging.
func NewServer(addr, path string, m *Metrics, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		addr:    addr,
		path:    path,
		metrics: m,
		logger:  logger.With("component", "metrics"),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously; serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("metrics server already running on %s", s.addr)
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{Handler: mux}
	s.boundAddr = ln.Addr().String()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	s.logger.Info("metrics server started", "addr", s.boundAddr, "path", s.path)
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Shutdown stops the server, waiting for in-flight scrapes up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}
