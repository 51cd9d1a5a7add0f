package subscription

import (
	"encoding/json"
	"strings"
)

// Tracked is the live state of one subscription.
type Tracked struct {
	// RootName is the subscription's root field name.
	RootName string

	// Identity is the alias if the query used one, else RootName. Results
	// arrive keyed by identity, so it is the tracking key within a client.
	Identity string

	// Alias is the root field alias, empty when the query had none.
	Alias string

	// Key is the cursor field name, copied from the descriptor.
	Key string

	// Fields are the leaf fields of the original selection, with Key
	// appended when the query did not select it.
	Fields []string

	// KeyInjected records whether Key had to be appended. When true,
	// observed results have the key stripped before traveling on.
	KeyInjected bool

	// LastValue is the latest observed value of the key field. Nil until a
	// result carries it (or the registration seeded it).
	LastValue interface{}

	// TransportID is the protocol message id of the originating start
	// message, reused when replaying.
	TransportID string

	// MessageType is the message type to replay with ("start" or
	// "subscribe", as originally observed).
	MessageType string

	// FixedArgs are the descriptor's fixed arguments as of registration.
	FixedArgs OrderedArgs
}

// RecoveryQuery synthesizes the minimal subscription document that resumes
// this subscription:
//
//	subscription { <alias: >name(<key>: <cursor>, <fixed args>) { <fields> } }
//
// The key argument comes first and is omitted entirely while LastValue is
// nil. Fixed arguments follow in configured order. With no arguments at all
// the parentheses are omitted. Argument values are rendered as JSON: strings
// quoted, numbers bare, booleans and null as keywords, lists and objects as
// their JSON text.
func (t *Tracked) RecoveryQuery() string {
	var b strings.Builder
	b.WriteString("subscription { ")
	if t.Alias != "" {
		b.WriteString(t.Alias)
		b.WriteString(": ")
	}
	b.WriteString(t.RootName)

	args := make([]string, 0, len(t.FixedArgs)+1)
	if t.LastValue != nil {
		args = append(args, t.Key+": "+encodeArgValue(t.LastValue))
	}
	for _, arg := range t.FixedArgs {
		args = append(args, arg.Name+": "+encodeArgValue(arg.Value))
	}
	if len(args) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(args, ", "))
		b.WriteString(")")
	}

	if len(t.Fields) > 0 {
		b.WriteString(" { ")
		b.WriteString(strings.Join(t.Fields, ", "))
		b.WriteString(" }")
	}
	b.WriteString(" }")
	return b.String()
}

// encodeArgValue renders a Go value as a GraphQL argument literal via JSON
// encoding. Unencodable values render as null.
func encodeArgValue(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func (t *Tracked) snapshot() Tracked {
	snap := *t
	snap.Fields = append([]string(nil), t.Fields...)
	snap.FixedArgs = t.FixedArgs.clone()
	return snap
}
