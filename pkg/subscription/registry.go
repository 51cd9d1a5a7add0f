package subscription

import (
	"encoding/json"
	"log/slog"

	"github.com/resubd/resubd/pkg/graphql"
	"github.com/resubd/resubd/pkg/logging"
	"github.com/resubd/resubd/pkg/protocol"
)

// Transport is the destination of a restoration replay. Each Send carries one
// complete JSON text message.
type Transport interface {
	Send(data []byte) error
}

// Registry tracks subscription state per client.
//
// A Registry is not safe for concurrent use: it assumes one logical sequence
// of events. Callers driving it from multiple goroutines must serialize
// access themselves.
type Registry struct {
	descriptors map[string]Descriptor
	clients     map[string]*clientState
	logger      *slog.Logger
}

// clientState is everything tracked for one client.
type clientState struct {
	// initPayload is replayed verbatim as the connection_init payload during
	// restoration. initRecorded distinguishes an explicit null payload from
	// no handshake observed at all.
	initPayload  interface{}
	initRecorded bool

	// subs is keyed by identity. order carries registration order, which
	// the map cannot.
	subs  map[string]*Tracked
	order []string

	// byTransport maps protocol message ids to identities for removal.
	byTransport map[string]string
}

// NewRegistry creates a registry tracking the given subscription types.
// Descriptors are indexed by Name; later duplicates win. A nil logger
// disables logging.
func NewRegistry(descriptors []Descriptor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	index := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		index[d.Name] = d
	}
	return &Registry{
		descriptors: index,
		clients:     make(map[string]*clientState),
		logger:      logger.With("component", "subscription-registry"),
	}
}

// client returns the state for clientID, creating it on first touch.
func (r *Registry) client(clientID string) *clientState {
	state, ok := r.clients[clientID]
	if !ok {
		state = &clientState{
			subs:        make(map[string]*Tracked),
			byTransport: make(map[string]string),
		}
		r.clients[clientID] = state
	}
	return state
}

// RecordConnectionInit stores the client's connection_init payload for
// replay during restoration. Overwrites any previous payload.
func (r *Registry) RecordConnectionInit(clientID string, payload interface{}) {
	state := r.client(clientID)
	state.initPayload = payload
	state.initRecorded = true
}

// Register inspects an outgoing subscription start and begins tracking it if
// its root field is configured.
//
// Documents that are not subscriptions, and subscriptions whose root field
// has no descriptor, are skipped silently. Unparseable documents are logged
// and skipped. transportID is the protocol message id (may be empty);
// messageType is the observed start message type, defaulting to "start".
//
// Registering an identity that is already tracked is a no-op: the first
// registration wins and keeps its state.
func (r *Registry) Register(clientID, query string, variables map[string]interface{}, transportID, messageType string) {
	state := r.client(clientID)

	info, err := graphql.ParseSubscription(query, variables)
	if err != nil {
		r.logger.Error("subscription query introspection failed",
			"client", clientID, "error", err)
		return
	}
	if info == nil {
		return
	}

	identity := info.Name
	if info.Alias != "" {
		identity = info.Alias
	}
	if _, exists := state.subs[identity]; exists {
		return
	}

	desc, configured := r.descriptors[info.Name]
	if !configured {
		r.logger.Debug("subscription root not configured, not tracking",
			"client", clientID, "root", info.Name)
		return
	}

	fields := info.Fields
	keyInjected := !containsField(fields, desc.Key)
	if keyInjected {
		fields = append(fields, desc.Key)
	}

	var lastValue interface{}
	if v, ok := variables["lastValue"]; ok {
		lastValue = v
	} else if v, ok := info.Params[desc.Key]; ok {
		lastValue = v
	}

	if messageType == "" {
		messageType = protocol.TypeStart
	}

	state.order = append(state.order, identity)
	state.subs[identity] = &Tracked{
		RootName:    info.Name,
		Identity:    identity,
		Alias:       info.Alias,
		Key:         desc.Key,
		Fields:      fields,
		KeyInjected: keyInjected,
		LastValue:   lastValue,
		TransportID: transportID,
		MessageType: messageType,
		FixedArgs:   desc.Args.clone(),
	}
	if transportID != "" {
		state.byTransport[transportID] = identity
	}

	r.logger.Debug("subscription tracked",
		"client", clientID, "identity", identity, "root", info.Name,
		"keyInjected", keyInjected, "transportId", transportID)
}

// ObserveResult advances the cursor of the subscription a result payload
// belongs to. payload is the data object of a data/next message, a
// single-key mapping from identity to result object.
//
// When the tracked subscription had its key field injected, the key is
// deleted from the result object, mutating payload in place, so the caller
// forwards a payload shaped like the client's original selection.
//
// Unknown clients, malformed payloads, and untracked identities are ignored.
func (r *Registry) ObserveResult(clientID string, payload map[string]interface{}) {
	state, ok := r.clients[clientID]
	if !ok {
		return
	}
	identity, data, ok := graphql.ResultRoot(payload)
	if !ok {
		return
	}
	sub, ok := state.subs[identity]
	if !ok {
		return
	}

	if value, present := data[sub.Key]; present {
		sub.LastValue = value
	}
	if sub.KeyInjected {
		delete(data, sub.Key)
	}
}

// Restore replays a client's session onto a fresh transport: the recorded
// connection_init first (when one was recorded), then one start message per
// tracked subscription in registration order, each carrying a recovery
// query. Subscriptions are replayed regardless of cursor state; a nil cursor
// just omits the key argument.
//
// A send failure is logged and aborts the remaining replay.
func (r *Registry) Restore(clientID string, transport Transport) {
	state, ok := r.clients[clientID]
	if !ok {
		r.logger.Debug("nothing to restore", "client", clientID)
		return
	}

	if state.initRecorded {
		if err := r.send(transport, restoreInit{
			Type:    protocol.TypeConnectionInit,
			Payload: state.initPayload,
		}); err != nil {
			r.logger.Error("restore: connection_init send failed",
				"client", clientID, "error", err)
			return
		}
	}

	for _, identity := range state.order {
		sub := state.subs[identity]
		frame := restoreStart{
			ID:   sub.TransportID,
			Type: sub.MessageType,
			Payload: restoreQuery{
				Query: sub.RecoveryQuery(),
			},
		}
		if err := r.send(transport, frame); err != nil {
			r.logger.Error("restore: subscription replay failed",
				"client", clientID, "identity", identity, "error", err)
			return
		}
		r.logger.Debug("subscription restored",
			"client", clientID, "identity", identity, "cursor", sub.LastValue)
	}
}

func (r *Registry) send(transport Transport, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return transport.Send(data)
}

// restoreInit is the wire shape of a replayed connection_init. Payload stays
// interface{} so a recorded null payload round-trips as null.
type restoreInit struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type restoreStart struct {
	ID      string       `json:"id,omitempty"`
	Type    string       `json:"type"`
	Payload restoreQuery `json:"payload"`
}

type restoreQuery struct {
	Query string `json:"query"`
}

// Remove drops the subscription registered under a transport message id.
// Unknown ids are a no-op.
func (r *Registry) Remove(clientID, transportID string) {
	state, ok := r.clients[clientID]
	if !ok {
		return
	}
	identity, ok := state.byTransport[transportID]
	if !ok {
		return
	}
	delete(state.byTransport, transportID)
	delete(state.subs, identity)
	for i, id := range state.order {
		if id == identity {
			state.order = append(state.order[:i], state.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("subscription removed",
		"client", clientID, "identity", identity, "transportId", transportID)
}

// RemoveAll drops every tracked subscription of a client. The client entry
// itself stays, its connection_init payload included, so a client that
// re-subscribes keeps its recorded handshake. Unknown clients are a no-op.
func (r *Registry) RemoveAll(clientID string) {
	state, ok := r.clients[clientID]
	if !ok {
		return
	}
	state.subs = make(map[string]*Tracked)
	state.order = nil
	state.byTransport = make(map[string]string)
	r.logger.Debug("all subscriptions removed", "client", clientID)
}

// Forget destroys the entire client entry, the connection_init payload
// included. The proxy calls it when a client disconnects for good.
func (r *Registry) Forget(clientID string) {
	delete(r.clients, clientID)
}

// Subscriptions returns snapshot copies of a client's tracked subscriptions
// in registration order. Mutating the copies does not affect the registry.
func (r *Registry) Subscriptions(clientID string) []Tracked {
	state, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]Tracked, 0, len(state.order))
	for _, identity := range state.order {
		out = append(out, state.subs[identity].snapshot())
	}
	return out
}

// ClientCount returns the number of clients with tracking state.
func (r *Registry) ClientCount() int {
	return len(r.clients)
}

// SubscriptionCount returns the number of tracked subscriptions for a client.
func (r *Registry) SubscriptionCount(clientID string) int {
	state, ok := r.clients[clientID]
	if !ok {
		return 0
	}
	return len(state.subs)
}

// TotalSubscriptions returns the number of tracked subscriptions across all
// clients.
func (r *Registry) TotalSubscriptions() int {
	total := 0
	for _, state := range r.clients {
		total += len(state.subs)
	}
	return total
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
