// Package codec converts between the JSON payloads carried on the wire
// and the cty values the execution stack computes over.
package codec

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// FromCty converts a cty.Value to a plain Go value suitable for JSON
// encoding.
func FromCty(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if val.Type().IsPrimitiveType() {
		switch val.Type() {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", val.Type().FriendlyName())
		}
	}
	if val.Type().IsObjectType() || val.Type().IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := FromCty(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if val.Type().IsTupleType() || val.Type().IsListType() {
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := FromCty(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", val.Type().FriendlyName())
}

// ToCty converts a decoded JSON value to cty. Numbers arrive as float64
// from encoding/json; integral floats become exact cty numbers.
func ToCty(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(x), nil
	case string:
		return cty.StringVal(x), nil
	case float64:
		if x == float64(int64(x)) {
			return cty.NumberIntVal(int64(x)), nil
		}
		return cty.NumberFloatVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case []any:
		if len(x) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(x))
		for _, e := range x {
			converted, err := ToCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, converted)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(x))
		for k, e := range x {
			converted, err := ToCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = converted
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported wire value of type %T", v)
	}
}

// ByteSize reports an approximate serialized size of a value, used by the
// sizing factory variant to account for broadcast and aggregation
// traffic.
func ByteSize(val cty.Value) int {
	converted, err := FromCty(val)
	if err != nil {
		return 0
	}
	return sizeOf(converted)
}

func sizeOf(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 8
	case string:
		return len(x)
	case []any:
		total := 0
		for _, e := range x {
			total += sizeOf(e)
		}
		return total
	case map[string]any:
		total := 0
		for k, e := range x {
			total += len(k) + sizeOf(e)
		}
		return total
	default:
		return 0
	}
}
