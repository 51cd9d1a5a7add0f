package graphql

import (
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// resolveArguments resolves a field's arguments to Go values. Later
// duplicates of an argument name overwrite earlier ones.
func resolveArguments(field *ast.Field, variables map[string]interface{}) map[string]interface{} {
	args := make(map[string]interface{}, len(field.Arguments))
	for _, arg := range field.Arguments {
		args[arg.Name] = resolveValue(arg.Value, variables)
	}
	return args
}

// resolveValue resolves an AST value to a Go value. The result is always one
// of: int64, float64, string, bool, nil, []interface{}, or
// map[string]interface{}. Variables resolve by lookup, absent variables and
// unrecognized literal kinds resolve to nil.
func resolveValue(value *ast.Value, variables map[string]interface{}) interface{} {
	if value == nil {
		return nil
	}

	switch value.Kind {
	case ast.Variable:
		if variables != nil {
			return variables[value.Raw]
		}
		return nil
	case ast.IntValue:
		if n, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
			return n
		}
		// Out-of-range integer literals degrade to float.
		if f, err := strconv.ParseFloat(value.Raw, 64); err == nil {
			return f
		}
		return nil
	case ast.FloatValue:
		if f, err := strconv.ParseFloat(value.Raw, 64); err == nil {
			return f
		}
		return nil
	case ast.StringValue, ast.BlockValue:
		return value.Raw
	case ast.BooleanValue:
		return value.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.ListValue:
		list := make([]interface{}, 0, len(value.Children))
		for _, child := range value.Children {
			list = append(list, resolveValue(child.Value, variables))
		}
		return list
	case ast.ObjectValue:
		obj := make(map[string]interface{}, len(value.Children))
		for _, child := range value.Children {
			obj[child.Name] = resolveValue(child.Value, variables)
		}
		return obj
	default:
		// Enum literals and future kinds have no JSON-shaped counterpart.
		return nil
	}
}
