// Package protocol defines the wire format shared by the two GraphQL
// WebSocket subprotocols resubd understands.
//
// Two dialects exist in the wild and resubd proxies both:
//
//   - subscriptions-transport-ws, negotiated as "graphql-ws" (legacy):
//     start / data / stop, with "ka" keep-alives.
//   - graphql-transport-ws, negotiated as "graphql-transport-ws" (modern):
//     subscribe / next / complete, with ping/pong.
//
// Both dialects frame every message as a JSON object with an optional id,
// a type, and an optional payload. The classification helpers (IsStart,
// IsData, IsStop) map dialect-specific type names onto the three events the
// subscription registry cares about, so the rest of the codebase never
// switches on raw type strings.
package protocol
