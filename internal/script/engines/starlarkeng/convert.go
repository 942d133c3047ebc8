package starlarkeng

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const maxConvertDepth = 64

// maxExactFloat is the largest integer a float64 holds exactly.
const maxExactFloat = 1 << 53

// toStarlark converts a decoded JSON value to a frozen Starlark value.
func toStarlark(v any) (starlark.Value, error) {
	val, err := toStarlarkDepth(v, 0)
	if err != nil {
		return nil, err
	}
	val.Freeze()
	return val, nil
}

func toStarlarkDepth(v any, depth int) (starlark.Value, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxConvertDepth)
	}
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < maxExactFloat {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for _, item := range x {
			elem, err := toStarlarkDepth(item, depth+1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(x))
		for _, key := range slices.Sorted(maps.Keys(x)) {
			elem, err := toStarlarkDepth(x[key], depth+1)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), elem); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// fromStarlark converts a Starlark value to its JSON counterpart.
func fromStarlark(v starlark.Value) (any, error) {
	return fromStarlarkDepth(v, 0)
}

func fromStarlarkDepth(v starlark.Value, depth int) (any, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxConvertDepth)
	}
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		f, _ := starlark.AsFloat(x)
		return f, nil
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot encode %v as JSON", x)
		}
		return f, nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return string(x), nil
	case *starlark.List:
		out := make([]any, 0, x.Len())
		for i := range x.Len() {
			item, err := fromStarlarkDepth(x.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(x))
		for _, elem := range x {
			item, err := fromStarlarkDepth(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Set:
		out := make([]any, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			item, err := fromStarlarkDepth(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, kv := range x.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				key = kv[0].String()
			}
			item, err := fromStarlarkDepth(kv[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = item
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range x.AttrNames() {
			attr, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			item, err := fromStarlarkDepth(attr, depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot encode value of type %s as JSON", v.Type())
	}
}

// valueString renders a value the way print and str do.
func valueString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
