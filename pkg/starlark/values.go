package starlark

import (
	"math"

	"go.starlark.net/starlark"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

// ConvertToStarlark converts a template value to a Starlark value
func ConvertToStarlark(val tmpl.Value) starlark.Value {
	if val == nil {
		return starlark.None
	}

	switch v := val.(type) {
	case tmpl.StringValue:
		return starlark.String(string(v))
	case tmpl.NumberValue:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(f)
	case tmpl.BoolValue:
		return starlark.Bool(bool(v))
	case tmpl.ListValue:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ConvertToStarlark(item)
		}
		return starlark.NewList(items)
	case *tmpl.MapValue:
		dict := starlark.NewDict(v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			_ = dict.SetKey(starlark.String(key), ConvertToStarlark(item))
		}
		return dict
	case tmpl.NullValue:
		return starlark.None
	default:
		return starlark.String(val.String())
	}
}

// ConvertFromStarlark converts a Starlark value to a template value. Dicts
// keep their insertion order.
func ConvertFromStarlark(val starlark.Value) tmpl.Value {
	if val == nil || val == starlark.None {
		return tmpl.Null
	}

	switch v := val.(type) {
	case starlark.String:
		return tmpl.StringValue(string(v))
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return tmpl.NumberValue(i)
		}
		// Too large for an int64; keep the digits.
		return tmpl.StringValue(v.String())
	case starlark.Float:
		return tmpl.NumberValue(float64(v))
	case starlark.Bool:
		return tmpl.BoolValue(bool(v))
	case *starlark.List:
		items := make(tmpl.ListValue, v.Len())
		for i := 0; i < v.Len(); i++ {
			items[i] = ConvertFromStarlark(v.Index(i))
		}
		return items
	case starlark.Tuple:
		items := make(tmpl.ListValue, len(v))
		for i, item := range v {
			items[i] = ConvertFromStarlark(item)
		}
		return items
	case *starlark.Dict:
		m := tmpl.NewMap()
		for _, item := range v.Items() {
			m.Set(keyString(item[0]), ConvertFromStarlark(item[1]))
		}
		return m
	default:
		return tmpl.StringValue(val.String())
	}
}

func keyString(k starlark.Value) string {
	if s, ok := k.(starlark.String); ok {
		return string(s)
	}
	return k.String()
}

// WrapValues converts render variables for use as Starlark predeclared names.
func WrapValues(vars map[string]tmpl.Value) starlark.StringDict {
	wrapped := make(starlark.StringDict, len(vars))
	for key, value := range vars {
		wrapped[key] = ConvertToStarlark(value)
	}
	return wrapped
}
