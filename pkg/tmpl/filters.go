package tmpl

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// filter is a built-in filter with its accepted argument count.
type filter struct {
	min, max int
	fn       func(in Value, args []Value) (Value, error)
}

// builtinFilters is the closed filter set. There is no registration API.
var builtinFilters = map[string]filter{
	"default":         {1, 1, filterDefault},
	"default_if_none": {1, 1, filterDefaultIfNone},
	"upper":           {0, 0, stringFilter(strings.ToUpper)},
	"lower":           {0, 0, stringFilter(strings.ToLower)},
	"title":           {0, 0, stringFilter(title)},
	"capfirst":        {0, 0, stringFilter(capfirst)},
	"trim":            {0, 0, stringFilter(strings.TrimSpace)},
	"slugify":         {0, 0, stringFilter(slugify)},
	"length":          {0, 0, filterLength},
	"join":            {0, 1, filterJoin},
	"first":           {0, 0, filterFirst},
	"last":            {0, 0, filterLast},
	"add":             {1, 1, filterAdd},
	"truncatechars":   {1, 1, filterTruncatechars},
	"yesno":           {0, 1, filterYesno},
}

// FilterNames lists the built-in filters.
func FilterNames() []string {
	names := make([]string, 0, len(builtinFilters))
	for n := range builtinFilters {
		names = append(names, n)
	}
	return names
}

// filterError is returned by filter functions; applyFilter adds the filter
// name and position.
type filterError struct {
	kind ErrorKind
	msg  string
}

func (e *filterError) Error() string { return e.msg }

func errArg(msg string) error  { return &filterError{kind: InvalidFilterArgument, msg: msg} }
func errType(msg string) error { return &filterError{kind: TypeMismatch, msg: msg} }

func applyFilter(f *FilterExpr, in Value, args []Value) (Value, error) {
	def, ok := builtinFilters[f.Name]
	if !ok {
		return nil, newError(InvalidExpression, f.Pos, "unknown filter %q", f.Name)
	}
	if len(args) < def.min || len(args) > def.max {
		if def.min == def.max {
			return nil, newError(InvalidFilterArgument, f.Pos, "%s expects %d argument(s), got %d", f.Name, def.min, len(args))
		}
		return nil, newError(InvalidFilterArgument, f.Pos, "%s expects %d to %d arguments, got %d", f.Name, def.min, def.max, len(args))
	}
	out, err := def.fn(in, args)
	if err != nil {
		if fe, ok := err.(*filterError); ok {
			return nil, newError(fe.kind, f.Pos, "%s: %s", f.Name, fe.msg)
		}
		return nil, err
	}
	return out, nil
}

func filterDefault(in Value, args []Value) (Value, error) {
	if in.Truth() {
		return in, nil
	}
	return args[0], nil
}

func filterDefaultIfNone(in Value, args []Value) (Value, error) {
	if in.Kind() == KindNull {
		return args[0], nil
	}
	return in, nil
}

// stringFilter lifts a string transform into a filter. Null is treated as the
// empty string; other kinds are rejected.
func stringFilter(fn func(string) string) func(Value, []Value) (Value, error) {
	return func(in Value, _ []Value) (Value, error) {
		switch in.Kind() {
		case KindString, KindNull:
			return StringValue(fn(in.String())), nil
		}
		return nil, errType("expects a string, got " + in.Kind().String())
	}
}

func title(s string) string {
	return cases.Title(language.Und).String(s)
}

func capfirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// slugify lowercases s, strips accents and joins alphanumeric runs with '-'.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			dash = true
		}
	}
	return b.String()
}

func filterLength(in Value, _ []Value) (Value, error) {
	switch t := in.(type) {
	case NullValue:
		return NumberValue(0), nil
	case StringValue:
		return NumberValue(utf8.RuneCountInString(string(t))), nil
	case ListValue:
		return NumberValue(len(t)), nil
	case *MapValue:
		return NumberValue(t.Len()), nil
	}
	return nil, errType("expects a string, list or map, got " + in.Kind().String())
}

func filterJoin(in Value, args []Value) (Value, error) {
	sep := ","
	if len(args) > 0 {
		s, ok := args[0].(StringValue)
		if !ok {
			return nil, errArg("separator must be a string")
		}
		sep = string(s)
	}
	switch t := in.(type) {
	case NullValue:
		return StringValue(""), nil
	case ListValue:
		parts := make([]string, len(t))
		for i, v := range t {
			parts[i] = v.String()
		}
		return StringValue(strings.Join(parts, sep)), nil
	}
	return nil, errType("expects a list, got " + in.Kind().String())
}

func filterFirst(in Value, _ []Value) (Value, error) {
	switch t := in.(type) {
	case NullValue:
		return Null, nil
	case ListValue:
		return listAt(t, 0), nil
	case StringValue:
		r, size := utf8.DecodeRuneInString(string(t))
		if size == 0 {
			return StringValue(""), nil
		}
		return StringValue(r), nil
	}
	return nil, errType("expects a list or string, got " + in.Kind().String())
}

func filterLast(in Value, _ []Value) (Value, error) {
	switch t := in.(type) {
	case NullValue:
		return Null, nil
	case ListValue:
		return listAt(t, -1), nil
	case StringValue:
		r, size := utf8.DecodeLastRuneInString(string(t))
		if size == 0 {
			return StringValue(""), nil
		}
		return StringValue(r), nil
	}
	return nil, errType("expects a list or string, got " + in.Kind().String())
}

// filterAdd sums numbers and concatenates strings or lists.
func filterAdd(in Value, args []Value) (Value, error) {
	switch a := in.(type) {
	case NumberValue:
		if b, ok := args[0].(NumberValue); ok {
			return a + b, nil
		}
	case StringValue:
		if b, ok := args[0].(StringValue); ok {
			return a + b, nil
		}
	case ListValue:
		if b, ok := args[0].(ListValue); ok {
			out := make(ListValue, 0, len(a)+len(b))
			return append(append(out, a...), b...), nil
		}
	}
	return nil, errType("cannot add " + args[0].Kind().String() + " to " + in.Kind().String())
}

// filterTruncatechars shortens a string to n runes including a trailing
// ellipsis.
func filterTruncatechars(in Value, args []Value) (Value, error) {
	n, ok := intArg(args[0])
	if !ok || n < 0 {
		return nil, errArg("length must be a non-negative integer")
	}
	if in.Kind() != KindString && in.Kind() != KindNull {
		return nil, errType("expects a string, got " + in.Kind().String())
	}
	rs := []rune(in.String())
	if len(rs) <= n {
		return in, nil
	}
	if n == 0 {
		return StringValue(""), nil
	}
	return StringValue(string(rs[:n-1]) + "…"), nil
}

// filterYesno maps true, false and null to the words of "yes,no,maybe". With
// only two words null maps to the second.
func filterYesno(in Value, args []Value) (Value, error) {
	words := []string{"yes", "no", "maybe"}
	if len(args) > 0 {
		s, ok := args[0].(StringValue)
		if !ok {
			return nil, errArg("mapping must be a string")
		}
		words = strings.Split(string(s), ",")
		if len(words) < 2 || len(words) > 3 {
			return nil, errArg("mapping must have two or three comma-separated words")
		}
		if len(words) == 2 {
			words = append(words, words[1])
		}
	}
	switch {
	case in.Kind() == KindNull:
		return StringValue(words[2]), nil
	case in.Truth():
		return StringValue(words[0]), nil
	}
	return StringValue(words[1]), nil
}
