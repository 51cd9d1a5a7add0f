package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/coder/websocket"
	gws "github.com/gorilla/websocket"

	"github.com/resubd/resubd/pkg/metrics"
	"github.com/resubd/resubd/pkg/protocol"
)

// errNoUpstream is returned for writes attempted while the upstream leg is
// down.
var errNoUpstream = errors.New("no upstream connection")

// session proxies one client connection to one upstream connection.
//
// Two goroutines run per session: the client pump (run itself) reads client
// frames and forwards them upstream, and the upstream pump reads upstream
// frames and forwards them to the client. The upstream connection may be
// replaced by the reconnect loop at any time; upMu guards the pointer and
// every write through it, which also keeps restoration frames ordered before
// any forwarded client traffic.
type session struct {
	id          string
	client      *websocket.Conn
	subprotocol string
	cfg         *Config
	tracker     *tracker
	metrics     *metrics.Metrics
	logger      *slog.Logger

	upMu     sync.Mutex
	upstream *gws.Conn
}

// run drives the session until the client disconnects or the upstream is
// gone for good. It owns session teardown: registry state is forgotten when
// the client leg ends.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	up, err := s.dialUpstream(ctx)
	if err != nil {
		s.logger.Warn("upstream dial failed", "upstream", s.cfg.UpstreamURL, "error", err)
		_ = s.client.Close(websocket.StatusTryAgainLater, "upstream unavailable")
		return
	}
	s.upstream = up

	s.logger.Info("session started", "subprotocol", s.subprotocol)

	defer func() {
		s.tracker.forget(s.id)
		s.upMu.Lock()
		if s.upstream != nil {
			_ = s.upstream.Close()
			s.upstream = nil
		}
		s.upMu.Unlock()
		_ = s.client.Close(websocket.StatusNormalClosure, "session closed")
		s.logger.Info("session closed")
	}()

	go s.upstreamPump(ctx, cancel)

	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		s.inspectClientFrame(data)

		if err := s.writeUpstream(data); err != nil {
			// The upstream pump notices the broken leg and reconnects;
			// this frame is lost, which the client protocol tolerates no
			// worse than a mid-flight disconnect.
			s.logger.Warn("client frame dropped, upstream write failed", "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.MessagesForwarded.WithLabelValues(metrics.DirectionClientToUpstream).Inc()
		}
	}
}

// inspectClientFrame updates registry state from a client-to-upstream frame.
// The frame itself is always forwarded untouched.
func (s *session) inspectClientFrame(data []byte) {
	msgType, err := jsonparser.GetString(data, "type")
	if err != nil {
		return
	}

	switch {
	case msgType == protocol.TypeConnectionInit:
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		var payload interface{}
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return
			}
		}
		s.tracker.recordInit(s.id, payload)

	case protocol.IsStart(msgType):
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		var op protocol.OperationPayload
		if err := json.Unmarshal(msg.Payload, &op); err != nil {
			return
		}
		s.tracker.register(s.id, op.Query, op.Variables, msg.ID, msg.Type)

	case protocol.IsStop(msgType):
		id, err := jsonparser.GetString(data, "id")
		if err != nil {
			return
		}
		s.tracker.remove(s.id, id)
	}
}

// upstreamPump reads upstream frames and forwards them to the client,
// reconnecting when the upstream leg breaks while the client is still there.
func (s *session) upstreamPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for {
		conn := s.currentUpstream()
		if conn == nil {
			return
		}

		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("upstream connection lost", "error", err)
			if !s.reconnect(ctx) {
				_ = s.client.Close(websocket.StatusTryAgainLater, "upstream unavailable")
				return
			}
			continue
		}
		if typ != gws.TextMessage {
			continue
		}

		data = s.inspectUpstreamFrame(data)

		if err := s.client.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.MessagesForwarded.WithLabelValues(metrics.DirectionUpstreamToClient).Inc()
		}
	}
}

// inspectUpstreamFrame feeds data/next results to the registry. When the
// registry strips an injected key field the frame is re-encoded, so the
// client receives exactly the selection it asked for; every other frame is
// returned untouched.
func (s *session) inspectUpstreamFrame(data []byte) []byte {
	msgType, err := jsonparser.GetString(data, "type")
	if err != nil || !protocol.IsData(msgType) {
		return data
	}

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return data
	}
	var result protocol.DataPayload
	if err := json.Unmarshal(msg.Payload, &result); err != nil || result.Data == nil {
		return data
	}

	s.tracker.observe(s.id, result.Data)

	payload, err := json.Marshal(result)
	if err != nil {
		return data
	}
	msg.Payload = payload
	out, err := json.Marshal(msg)
	if err != nil {
		return data
	}
	return out
}

func (s *session) currentUpstream() *gws.Conn {
	s.upMu.Lock()
	defer s.upMu.Unlock()
	return s.upstream
}

func (s *session) writeUpstream(data []byte) error {
	s.upMu.Lock()
	defer s.upMu.Unlock()
	if s.upstream == nil {
		return errNoUpstream
	}
	return s.upstream.WriteMessage(gws.TextMessage, data)
}

func (s *session) dialUpstream(ctx context.Context) (*gws.Conn, error) {
	dialer := gws.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		Subprotocols:     []string{s.subprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.UpstreamURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// reconnect redials the upstream with exponential backoff and replays the
// session through the registry. It reports whether the upstream leg is live
// again. The connection swap and the restoration happen under upMu, so no
// forwarded client frame can interleave with the replayed handshake.
func (s *session) reconnect(ctx context.Context) bool {
	delay := s.cfg.Reconnect.InitialDelay

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		conn, err := s.dialUpstream(ctx)
		if err == nil {
			s.upMu.Lock()
			if s.upstream != nil {
				_ = s.upstream.Close()
			}
			s.upstream = conn
			restored := s.tracker.restore(s.id, upstreamTransport{conn})
			s.upMu.Unlock()

			if s.metrics != nil {
				s.metrics.UpstreamReconnects.Inc()
				s.metrics.SubscriptionsRestored.Add(float64(restored))
			}
			s.logger.Info("upstream reconnected",
				"attempt", attempt, "restored", restored)
			return true
		}

		s.logger.Warn("upstream redial failed",
			"attempt", attempt, "delay", delay, "error", err)
		if s.cfg.Reconnect.MaxAttempts > 0 && attempt >= s.cfg.Reconnect.MaxAttempts {
			s.logger.Error("upstream reconnect attempts exhausted",
				"attempts", attempt)
			return false
		}

		delay *= 2
		if delay > s.cfg.Reconnect.MaxDelay {
			delay = s.cfg.Reconnect.MaxDelay
		}
	}
}

// upstreamTransport adapts a gorilla connection to the registry's Transport.
// Restoration runs with upMu held, so writes here never race the pumps.
type upstreamTransport struct {
	conn *gws.Conn
}

func (t upstreamTransport) Send(data []byte) error {
	return t.conn.WriteMessage(gws.TextMessage, data)
}
