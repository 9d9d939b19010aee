package tmpl

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is the dynamic value domain exposed to templates. It defines string
// conversion and truthiness semantics.
type Value interface {
	Kind() Kind
	String() string
	Truth() bool
}

// NullValue represents the absence of a value.
type NullValue struct{}

func (NullValue) Kind() Kind     { return KindNull }
func (NullValue) String() string { return "" }
func (NullValue) Truth() bool    { return false }

// Null is the shared null value.
var Null Value = NullValue{}

// BoolValue wraps a boolean.
type BoolValue bool

func (BoolValue) Kind() Kind { return KindBool }
func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b BoolValue) Truth() bool { return bool(b) }

// NumberValue wraps a number. Integral values print without a fraction.
type NumberValue float64

func (NumberValue) Kind() Kind { return KindNumber }
func (n NumberValue) String() string {
	f := float64(n)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
func (n NumberValue) Truth() bool { return float64(n) != 0 }

// Int reports whether the number is integral and returns it.
func (n NumberValue) Int() (int, bool) {
	f := float64(n)
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// StringValue wraps a string.
type StringValue string

func (StringValue) Kind() Kind       { return KindString }
func (s StringValue) String() string { return string(s) }
func (s StringValue) Truth() bool    { return len(s) > 0 }

// ListValue wraps a list of values.
type ListValue []Value

func (ListValue) Kind() Kind { return KindList }
func (l ListValue) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
func (l ListValue) Truth() bool { return len(l) > 0 }

// MapValue is a string-keyed map that remembers insertion order.
type MapValue struct {
	keys  []string
	items map[string]Value
}

// NewMap returns an empty map.
func NewMap() *MapValue {
	return &MapValue{items: map[string]Value{}}
}

// MapOf builds a map from alternating key/value arguments.
func MapOf(kv ...any) *MapValue {
	m := NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(fmt.Sprint(kv[i]), FromGo(kv[i+1]))
	}
	return m
}

func (*MapValue) Kind() Kind { return KindMap }

func (m *MapValue) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(m.items[k].String())
	}
	b.WriteByte('}')
	return b.String()
}

func (m *MapValue) Truth() bool { return m.Len() > 0 }

// Set stores v under k. A new key is appended to the iteration order; an
// existing key keeps its position.
func (m *MapValue) Set(k string, v Value) {
	if m.items == nil {
		m.items = map[string]Value{}
	}
	if _, ok := m.items[k]; !ok {
		m.keys = append(m.keys, k)
	}
	if v == nil {
		v = Null
	}
	m.items[k] = v
}

// Get returns the value stored under k.
func (m *MapValue) Get(k string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.items[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *MapValue) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

func (m *MapValue) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// FromGo converts a Go value to a Value. Go maps are converted with their keys
// sorted so rendering stays deterministic.
func FromGo(v any) Value {
	if v == nil {
		return Null
	}
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return NumberValue(t)
	case int8:
		return NumberValue(t)
	case int16:
		return NumberValue(t)
	case int32:
		return NumberValue(t)
	case int64:
		return NumberValue(t)
	case uint:
		return NumberValue(t)
	case uint8:
		return NumberValue(t)
	case uint16:
		return NumberValue(t)
	case uint32:
		return NumberValue(t)
	case uint64:
		return NumberValue(t)
	case float32:
		return NumberValue(t)
	case float64:
		return NumberValue(t)
	case []byte:
		return StringValue(t)
	case fmt.Stringer:
		return StringValue(t.String())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(ListValue, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, FromGo(rv.Index(i).Interface()))
		}
		return out
	case reflect.Map:
		keys := rv.MapKeys()
		names := make([]string, len(keys))
		byName := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			names[i] = fmt.Sprint(k.Interface())
			byName[names[i]] = k
		}
		sort.Strings(names)
		out := NewMap()
		for _, n := range names {
			out.Set(n, FromGo(rv.MapIndex(byName[n]).Interface()))
		}
		return out
	case reflect.Struct:
		out := NewMap()
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			out.Set(f.Name, FromGo(rv.Field(i).Interface()))
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null
		}
		return FromGo(rv.Elem().Interface())
	}
	return StringValue(fmt.Sprintf("%v", v))
}

// ValuesFromGo converts a render data map into values.
func ValuesFromGo(m map[string]any) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = FromGo(v)
	}
	return out
}

// Equal compares two values structurally. Numbers compare by value, lists and
// maps element-wise; values of different kinds are never equal.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case ListValue:
		y := b.(ListValue)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *MapValue:
		y := b.(*MapValue)
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Keys() {
			yv, ok := y.Get(k)
			if !ok {
				return false
			}
			xv, _ := x.Get(k)
			if !Equal(xv, yv) {
				return false
			}
		}
		return true
	case NullValue:
		return true
	}
	return a == b
}
