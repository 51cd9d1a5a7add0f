package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/resubd/resubd/pkg/logging"
	"github.com/resubd/resubd/pkg/metrics"
	"github.com/resubd/resubd/pkg/protocol"
	"github.com/resubd/resubd/pkg/subscription"
)

// Config configures the proxy server.
type Config struct {
	// ListenAddr is the address to listen on, e.g. ":4290".
	ListenAddr string

	// Path is the HTTP path serving the WebSocket endpoint.
	Path string

	// UpstreamURL is the ws:// or wss:// URL of the GraphQL server.
	UpstreamURL string

	// HandshakeTimeout bounds the upstream WebSocket handshake.
	HandshakeTimeout time.Duration

	// Reconnect configures upstream redial backoff.
	Reconnect ReconnectConfig
}

// ReconnectConfig configures the upstream reconnect loop. The delay doubles
// per failed attempt, from InitialDelay up to MaxDelay.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts limits consecutive failed attempts before the client leg
	// is closed. 0 retries until the client goes away.
	MaxAttempts int
}

// Server accepts client WebSockets and proxies each to the upstream.
type Server struct {
	cfg     Config
	tracker *tracker
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	boundAddr string

	sessions sync.WaitGroup
}

// NewServer creates a proxy server driving the given registry. m may be nil
// when metrics are disabled; a nil logger disables logging.
func NewServer(cfg Config, registry *subscription.Registry, m *metrics.Metrics, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/graphql"
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		cfg:     cfg,
		tracker: newTracker(registry, m),
		metrics: m,
		logger:  logger.With("component", "proxy"),
	}
}

// ServeHTTP upgrades the request and runs a proxy session until either leg
// closes for good.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Path != "" && r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{protocol.SubprotocolTransport, protocol.SubprotocolLegacy},
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	subproto := conn.Subprotocol()
	if subproto == "" {
		subproto = protocol.SubprotocolTransport
	}

	clientID := uuid.NewString()
	sess := &session{
		id:          clientID,
		client:      conn,
		subprotocol: subproto,
		cfg:         &s.cfg,
		tracker:     s.tracker,
		metrics:     s.metrics,
		logger:      s.logger.With("session", clientID, "remote", r.RemoteAddr),
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
		defer s.metrics.SessionsActive.Dec()
	}

	sess.run(r.Context())
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously; serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("proxy server already running on %s", s.cfg.ListenAddr)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.server = &http.Server{Handler: s}
	s.boundAddr = ln.Addr().String()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server failed", "error", err)
		}
	}()

	s.logger.Info("proxy server started",
		"addr", s.boundAddr, "path", s.cfg.Path, "upstream", s.cfg.UpstreamURL)
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Shutdown stops accepting connections and waits for active sessions to
// finish, up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
