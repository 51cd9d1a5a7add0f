package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resubd/resubd/pkg/subscription"
)

// upstreamStub is a fake upstream GraphQL WebSocket server. Each accepted
// connection is delivered on conns with its received text frames flowing
// into incoming.
type upstreamStub struct {
	server *httptest.Server
	conns  chan *stubConn
}

type stubConn struct {
	conn     *gws.Conn
	incoming chan []byte
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{conns: make(chan *stubConn, 4)}
	upgrader := gws.Upgrader{
		Subprotocols: []string{"graphql-transport-ws", "graphql-ws"},
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &stubConn{conn: conn, incoming: make(chan []byte, 16)}
		stub.conns <- sc
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				close(sc.incoming)
				return
			}
			if typ == gws.TextMessage {
				sc.incoming <- data
			}
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (u *upstreamStub) url() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http")
}

// accept waits for the proxy to establish an upstream leg.
func (u *upstreamStub) accept(t *testing.T) *stubConn {
	t.Helper()
	select {
	case sc := <-u.conns:
		return sc
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream connection")
		return nil
	}
}

func (sc *stubConn) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-sc.incoming:
		require.True(t, ok, "upstream connection closed while waiting for a frame")
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream frame")
		return nil
	}
}

func (sc *stubConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data, ok := <-sc.incoming:
		if ok {
			t.Fatalf("unexpected upstream frame: %s", data)
		}
	case <-time.After(wait):
	}
}

func (sc *stubConn) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, sc.conn.WriteMessage(gws.TextMessage, []byte(frame)))
}

// testProxy wires a proxy server in front of the stub with fast reconnects.
func testProxy(t *testing.T, upstream *upstreamStub, descriptors ...subscription.Descriptor) *httptest.Server {
	t.Helper()
	if len(descriptors) == 0 {
		descriptors = []subscription.Descriptor{{Name: "onItems", Key: "offset"}}
	}
	registry := subscription.NewRegistry(descriptors, nil)
	srv := NewServer(Config{
		Path:        "/graphql",
		UpstreamURL: upstream.url(),
		Reconnect: ReconnectConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
		},
	}, registry, nil, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dialClient(t *testing.T, ts *httptest.Server, subprotocol string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/graphql",
		&websocket.DialOptions{Subprotocols: []string{subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func clientSend(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func clientNext(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestProxyForwardsAndStripsInjectedKey(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)
	client := dialClient(t, ts, "graphql-ws")
	up := upstream.accept(t)

	clientSend(t, client, `{"type":"connection_init","payload":{"token":"secret"}}`)
	frame := up.next(t)
	assert.Equal(t, "connection_init", frame["type"])
	assert.Equal(t, map[string]interface{}{"token": "secret"}, frame["payload"])

	// The start frame travels upstream untouched even though the registry
	// tracks an injected key field.
	clientSend(t, client, `{"id":"1","type":"start","payload":{"query":"subscription { onItems { id } }"}}`)
	frame = up.next(t)
	assert.Equal(t, "start", frame["type"])
	payload := frame["payload"].(map[string]interface{})
	assert.Equal(t, "subscription { onItems { id } }", payload["query"])

	// A data frame carrying the injected key reaches the client without it.
	up.send(t, `{"id":"1","type":"data","payload":{"data":{"onItems":{"id":"a","offset":7}}}}`)
	frame = clientNext(t, client)
	assert.Equal(t, "data", frame["type"])
	data := frame["payload"].(map[string]interface{})["data"].(map[string]interface{})
	item := data["onItems"].(map[string]interface{})
	assert.Equal(t, "a", item["id"])
	assert.NotContains(t, item, "offset")
}

func TestProxyRestoresSessionAfterUpstreamLoss(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)
	client := dialClient(t, ts, "graphql-ws")
	up := upstream.accept(t)

	clientSend(t, client, `{"type":"connection_init","payload":{"token":"secret"}}`)
	up.next(t)
	clientSend(t, client, `{"id":"1","type":"start","payload":{"query":"subscription { onItems { id } }"}}`)
	up.next(t)
	up.send(t, `{"id":"1","type":"data","payload":{"data":{"onItems":{"id":"a","offset":42}}}}`)
	clientNext(t, client)

	// Kill the upstream leg; the proxy redials and replays the session
	// with the observed cursor embedded.
	require.NoError(t, up.conn.Close())
	restored := upstream.accept(t)

	frame := restored.next(t)
	assert.Equal(t, "connection_init", frame["type"])
	assert.Equal(t, map[string]interface{}{"token": "secret"}, frame["payload"])

	frame = restored.next(t)
	assert.Equal(t, "start", frame["type"])
	assert.Equal(t, "1", frame["id"])
	payload := frame["payload"].(map[string]interface{})
	assert.Equal(t, "subscription { onItems(offset: 42) { id, offset } }", payload["query"])
}

func TestProxyStopRemovesSubscriptionFromReplay(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)
	client := dialClient(t, ts, "graphql-ws")
	up := upstream.accept(t)

	clientSend(t, client, `{"type":"connection_init"}`)
	up.next(t)
	clientSend(t, client, `{"id":"1","type":"start","payload":{"query":"subscription { onItems { id, offset } }"}}`)
	up.next(t)
	clientSend(t, client, `{"id":"1","type":"stop"}`)
	up.next(t)

	require.NoError(t, up.conn.Close())
	restored := upstream.accept(t)

	// Only the handshake is replayed; the stopped subscription is gone.
	frame := restored.next(t)
	assert.Equal(t, "connection_init", frame["type"])
	restored.expectNone(t, 300*time.Millisecond)
}

func TestProxyModernDialect(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)
	client := dialClient(t, ts, "graphql-transport-ws")
	up := upstream.accept(t)

	assert.Equal(t, "graphql-transport-ws", up.conn.Subprotocol())

	clientSend(t, client, `{"type":"connection_init"}`)
	up.next(t)
	clientSend(t, client, `{"id":"s1","type":"subscribe","payload":{"query":"subscription { onItems { id, offset } }"}}`)
	up.next(t)
	up.send(t, `{"id":"s1","type":"next","payload":{"data":{"onItems":{"id":"b","offset":9}}}}`)
	clientNext(t, client)

	require.NoError(t, up.conn.Close())
	restored := upstream.accept(t)

	restored.next(t) // connection_init
	frame := restored.next(t)
	assert.Equal(t, "subscribe", frame["type"])
	assert.Equal(t, "s1", frame["id"])
	payload := frame["payload"].(map[string]interface{})
	assert.Equal(t, "subscription { onItems(offset: 9) { id, offset } }", payload["query"])
}

func TestProxyIgnoresNonSubscriptionTraffic(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)
	client := dialClient(t, ts, "graphql-ws")
	up := upstream.accept(t)

	clientSend(t, client, `{"type":"connection_init"}`)
	up.next(t)
	clientSend(t, client, `{"id":"q1","type":"start","payload":{"query":"query { items { id } }"}}`)
	frame := up.next(t)
	assert.Equal(t, "q1", frame["id"])

	require.NoError(t, up.conn.Close())
	restored := upstream.accept(t)

	// Nothing beyond the handshake comes back: queries are never tracked.
	restored.next(t)
	restored.expectNone(t, 300*time.Millisecond)
}

func TestProxyRejectsUnknownPath(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStartAndShutdown(t *testing.T) {
	upstream := newUpstreamStub(t)
	registry := subscription.NewRegistry([]subscription.Descriptor{{Name: "onItems", Key: "offset"}}, nil)
	srv := NewServer(Config{
		ListenAddr:  "127.0.0.1:0",
		Path:        "/graphql",
		UpstreamURL: upstream.url(),
	}, registry, nil, nil)

	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())
	require.Error(t, srv.Start(), "double start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx), "second shutdown is a no-op")
}

// One mutex serializes all registry calls across sessions; run several
// sessions with concurrent traffic to give the race detector something to
// chew on. Sessions are established one at a time so each client pairs with
// its own upstream leg.
func TestProxyConcurrentSessions(t *testing.T) {
	upstream := newUpstreamStub(t)
	ts := testProxy(t, upstream)

	const sessions = 4
	clients := make([]*websocket.Conn, sessions)
	ups := make([]*stubConn, sessions)
	for i := 0; i < sessions; i++ {
		clients[i] = dialClient(t, ts, "graphql-ws")
		ups[i] = upstream.accept(t)
		clientSend(t, clients[i], `{"type":"connection_init"}`)
		ups[i].next(t)
		clientSend(t, clients[i], `{"id":"1","type":"start","payload":{"query":"subscription { onItems { id, offset } }"}}`)
		ups[i].next(t)
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				ups[i].send(t, `{"id":"1","type":"data","payload":{"data":{"onItems":{"id":"x","offset":1}}}}`)
				clientNext(t, clients[i])
			}
		}(i)
	}
	wg.Wait()
}
