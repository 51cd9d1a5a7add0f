// Package proxy implements the WebSocket reverse proxy that embeds the
// subscription registry.
//
// The proxy accepts GraphQL WebSocket clients, dials the upstream GraphQL
// server with the same subprotocol, and relays frames in both directions.
// While relaying it feeds the registry: start messages register
// subscriptions, data messages advance cursors (and may have an injected key
// field stripped before reaching the client), stop messages remove them.
// When the upstream leg drops while the client is still connected, the proxy
// redials with exponential backoff and replays the client's session through
// the registry, so subscriptions resume from their last observed cursor
// instead of starting over.
//
// The registry itself is not safe for concurrent use; the proxy serializes
// every registry call across all sessions behind one mutex.
package proxy
