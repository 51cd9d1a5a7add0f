package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Descriptor configures tracking for one subscription type, matched by root
// field name. Subscriptions whose root field has no descriptor are never
// tracked.
type Descriptor struct {
	// Name is the subscription root field this descriptor applies to.
	Name string `json:"name" yaml:"name"`

	// Key is the cursor field. Its latest observed value becomes the first
	// argument of every recovery query.
	Key string `json:"key" yaml:"key"`

	// Args are fixed arguments appended to every recovery query, in the
	// order they appear here.
	Args OrderedArgs `json:"args,omitempty" yaml:"args,omitempty"`
}

// Validate checks that the descriptor is usable.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("subscription descriptor: name is required")
	}
	if d.Key == "" {
		return fmt.Errorf("subscription descriptor %q: key is required", d.Name)
	}
	return nil
}

// Argument is one named argument value.
type Argument struct {
	Name  string
	Value interface{}
}

// OrderedArgs is an argument list that preserves source-document order.
// Go maps don't, and recovery queries serialize fixed arguments in
// configured order, so the order has to travel with the values.
type OrderedArgs []Argument

func (a OrderedArgs) clone() OrderedArgs {
	if a == nil {
		return nil
	}
	out := make(OrderedArgs, len(a))
	copy(out, a)
	return out
}

// UnmarshalYAML decodes a YAML mapping into arguments, keeping key order.
func (a *OrderedArgs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("args: expected a mapping, got %s", yamlKind(node.Kind))
	}
	out := make(OrderedArgs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("args: %w", err)
		}
		var value interface{}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("args %q: %w", name, err)
		}
		out = append(out, Argument{Name: name, Value: value})
	}
	*a = out
	return nil
}

// UnmarshalJSON decodes a JSON object into arguments, keeping key order.
// encoding/json's map decoding would lose it, so the object is walked
// token by token.
func (a *OrderedArgs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("args: %w", err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("args: expected an object, got %v", tok)
	}

	out := OrderedArgs{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("args: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("args: expected an object key, got %v", keyTok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("args %q: %w", name, err)
		}
		out = append(out, Argument{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	*a = out
	return nil
}

// MarshalJSON encodes the arguments as a JSON object in order.
func (a OrderedArgs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func yamlKind(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
