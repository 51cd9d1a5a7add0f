package graphql

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ErrInvalidQuery is returned when a document is not syntactically valid
// GraphQL. Callers can match it with errors.Is.
var ErrInvalidQuery = errors.New("invalid graphql query")

// SubscriptionInfo describes the subscription operation of a parsed document.
type SubscriptionInfo struct {
	// Name is the root field name of the subscription.
	Name string

	// Alias is the alias on the root field, empty when the document has none.
	Alias string

	// Fields are the leaf field names of the root selection set, flattened
	// in document order. Fields with nested selections contribute their
	// leaves, not themselves.
	Fields []string

	// Params maps root field argument names to resolved Go values.
	Params map[string]interface{}
}

// ParseSubscription parses a GraphQL document and, if it contains a
// subscription operation with a single root field, returns its structure.
//
// Variable references in argument values resolve against variables; absent
// variables resolve to nil.
//
// The document is inspected, never validated: no schema is involved. A
// document that parses but is not a trackable subscription (no subscription
// operation, or zero/multiple root fields) returns (nil, nil). Only
// unparseable text returns an error, wrapping ErrInvalidQuery.
func ParseSubscription(query string, variables map[string]interface{}) (*SubscriptionInfo, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	var op *ast.OperationDefinition
	for _, opDef := range doc.Operations {
		if opDef.Operation == ast.Subscription {
			op = opDef
			break
		}
	}
	if op == nil {
		return nil, nil
	}

	root := singleRootField(op.SelectionSet)
	if root == nil {
		return nil, nil
	}

	info := &SubscriptionInfo{
		Name:   root.Name,
		Alias:  rootAlias(root),
		Fields: flattenFields(doc, root.SelectionSet),
		Params: resolveArguments(root, variables),
	}
	return info, nil
}

// singleRootField returns the root field of a subscription selection set.
// Subscriptions carry exactly one root field; anything else is not trackable.
func singleRootField(selections ast.SelectionSet) *ast.Field {
	var root *ast.Field
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if root != nil {
			return nil
		}
		root = field
	}
	return root
}

// rootAlias returns the alias of a field, empty when none. gqlparser fills
// Alias with the field name when the document has no alias, so equality with
// Name means "no alias".
func rootAlias(field *ast.Field) string {
	if field.Alias == "" || field.Alias == field.Name {
		return ""
	}
	return field.Alias
}

// flattenFields collects the leaf field names of a selection set in document
// order. Nested selections are flattened to their leaves, fragment spreads
// are spliced in place (unknown fragments contribute nothing), inline
// fragments are flattened unconditionally, and __typename is skipped.
// Duplicates are preserved.
func flattenFields(doc *ast.QueryDocument, selections ast.SelectionSet) []string {
	return flattenInto(doc, selections, map[string]bool{})
}

// flattenInto is flattenFields with the set of fragment names currently being
// expanded. A spread of a fragment already on the stack is skipped, so cyclic
// fragment definitions terminate instead of recursing forever. The parser
// accepts such documents; only validation rejects them, and no schema is
// involved here.
func flattenInto(doc *ast.QueryDocument, selections ast.SelectionSet, expanding map[string]bool) []string {
	var fields []string
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == "__typename" {
				continue
			}
			if len(s.SelectionSet) == 0 {
				fields = append(fields, s.Name)
				continue
			}
			fields = append(fields, flattenInto(doc, s.SelectionSet, expanding)...)
		case *ast.FragmentSpread:
			if expanding[s.Name] {
				continue
			}
			for _, frag := range doc.Fragments {
				if frag.Name == s.Name {
					expanding[s.Name] = true
					fields = append(fields, flattenInto(doc, frag.SelectionSet, expanding)...)
					delete(expanding, s.Name)
					break
				}
			}
		case *ast.InlineFragment:
			fields = append(fields, flattenInto(doc, s.SelectionSet, expanding)...)
		}
	}
	return fields
}

// ResultRoot splits a subscription result payload into its root name and data
// object. Result payloads are single-key mappings from the subscription's
// identity to its data: {"onItems": {"id": "...", "offset": 42}}.
//
// Payloads with zero or multiple keys, or whose value is not an object,
// return ok=false. Malformed results never error; there is simply nothing
// to observe in them.
func ResultRoot(payload map[string]interface{}) (name string, data map[string]interface{}, ok bool) {
	if len(payload) != 1 {
		return "", nil, false
	}
	for key, value := range payload {
		obj, isObj := value.(map[string]interface{})
		if !isObj {
			return "", nil, false
		}
		return key, obj, true
	}
	return "", nil, false
}
