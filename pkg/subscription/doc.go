// Package subscription tracks GraphQL subscription state across transport
// reconnects.
//
// A Registry holds, per client, every active subscription whose root field
// matches a configured Descriptor: the flattened selection, the transport
// message id, the connection_init payload, and a cursor holding the latest
// observed value of the descriptor's key field. When the transport to the
// upstream is re-established, Restore replays the client's session onto the
// new connection, synthesizing for each subscription a recovery query that
// embeds the cursor so streams resume where they left off.
//
// The registry mutates observed result payloads in place: when it had to
// inject the key field into a subscription's selection, it strips that field
// from results before they travel on, so clients never see fields they did
// not ask for.
//
// A Registry is not safe for concurrent use. Callers serialize access; see
// the proxy package for how resubd does it.
package subscription
