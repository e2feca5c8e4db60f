package codegen

import (
	"fmt"
	"sort"

	"github.com/alliancesoftware/apfrontend/internal/ordered"
)

// UnconvertibleValueError is returned by Convert when a value has no node
// representation and the fallback hook declined it. It carries the
// offending value for diagnostics.
type UnconvertibleValueError struct {
	Value any
}

func (e *UnconvertibleValueError) Error() string {
	return fmt.Sprintf("cannot convert value of type %T to a code node: %#v", e.Value, e.Value)
}

// ConvertFallback converts domain-specific values that Convert does not
// understand. Returning (nil, nil) means the hook declined the value.
type ConvertFallback func(value any) (Node, error)

// Convert maps an arbitrary nested value (maps, slices, scalars) to the
// node vocabulary. Nodes pass through unchanged. Map keys are emitted as
// identifiers when valid, string literals otherwise; plain maps are
// sorted by key for deterministic output while ordered.Map preserves
// insertion order.
func Convert(value any, fallback ConvertFallback) (Node, error) {
	switch v := value.(type) {
	case nil:
		return NullLiteral{}, nil
	case Node:
		return v, nil
	case string:
		return StringLiteral{Value: v}, nil
	case bool:
		return BooleanLiteral{Value: v}, nil
	case int:
		return NumericLiteral{Value: float64(v)}, nil
	case int8:
		return NumericLiteral{Value: float64(v)}, nil
	case int16:
		return NumericLiteral{Value: float64(v)}, nil
	case int32:
		return NumericLiteral{Value: float64(v)}, nil
	case int64:
		return NumericLiteral{Value: float64(v)}, nil
	case uint:
		return NumericLiteral{Value: float64(v)}, nil
	case uint8:
		return NumericLiteral{Value: float64(v)}, nil
	case uint16:
		return NumericLiteral{Value: float64(v)}, nil
	case uint32:
		return NumericLiteral{Value: float64(v)}, nil
	case uint64:
		return NumericLiteral{Value: float64(v)}, nil
	case float32:
		return NumericLiteral{Value: float64(v)}, nil
	case float64:
		return NumericLiteral{Value: v}, nil
	case []any:
		elements := make([]Node, 0, len(v))
		for _, el := range v {
			node, err := Convert(el, fallback)
			if err != nil {
				return nil, err
			}
			elements = append(elements, node)
		}
		return ArrayLiteral{Elements: elements}, nil
	case []string:
		elements := make([]Node, 0, len(v))
		for _, el := range v {
			elements = append(elements, StringLiteral{Value: el})
		}
		return ArrayLiteral{Elements: elements}, nil
	case *ordered.Map:
		props := make([]Node, 0, v.Len())
		for _, key := range v.Keys() {
			val, _ := v.Get(key)
			node, err := Convert(val, fallback)
			if err != nil {
				return nil, err
			}
			props = append(props, ObjectProperty{Name: ObjectKey(key), Init: node})
		}
		return ObjectLiteral{Properties: props}, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		props := make([]Node, 0, len(keys))
		for _, key := range keys {
			node, err := Convert(v[key], fallback)
			if err != nil {
				return nil, err
			}
			props = append(props, ObjectProperty{Name: ObjectKey(key), Init: node})
		}
		return ObjectLiteral{Properties: props}, nil
	}
	if fallback != nil {
		node, err := fallback(value)
		if err != nil {
			return nil, err
		}
		if node != nil {
			return node, nil
		}
	}
	return nil, &UnconvertibleValueError{Value: value}
}
