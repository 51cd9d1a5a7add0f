package protocol

import "encoding/json"

// WebSocket subprotocol names negotiated during the handshake.
const (
	// SubprotocolLegacy is the subscriptions-transport-ws protocol.
	SubprotocolLegacy = "graphql-ws"
	// SubprotocolTransport is the graphql-transport-ws protocol.
	SubprotocolTransport = "graphql-transport-ws"
)

// Message types shared by both protocols.
const (
	TypeConnectionInit = "connection_init"
	TypeConnectionAck  = "connection_ack"
	TypeError          = "error"
	TypeComplete       = "complete"
)

// graphql-transport-ws message types.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeSubscribe = "subscribe"
	TypeNext      = "next"
)

// subscriptions-transport-ws message types.
const (
	TypeConnectionError     = "connection_error"
	TypeConnectionKeepAlive = "ka"
	TypeStart               = "start"
	TypeData                = "data"
	TypeStop                = "stop"
	TypeConnectionTerminate = "connection_terminate"
)

// Message is a single frame of either subprotocol.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OperationPayload is the payload of start/subscribe messages.
type OperationPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// DataPayload is the payload of data/next messages. Errors is kept raw:
// resubd forwards GraphQL errors untouched.
type DataPayload struct {
	Data   map[string]interface{} `json:"data,omitempty"`
	Errors json.RawMessage        `json:"errors,omitempty"`
}

// IsStart reports whether typ begins an operation in either dialect.
func IsStart(typ string) bool {
	return typ == TypeStart || typ == TypeSubscribe
}

// IsData reports whether typ carries an execution result in either dialect.
func IsData(typ string) bool {
	return typ == TypeData || typ == TypeNext
}

// IsStop reports whether typ ends an operation in either dialect. In the
// modern protocol "complete" flows both directions; callers that care about
// direction must track it themselves.
func IsStop(typ string) bool {
	return typ == TypeStop || typ == TypeComplete
}
