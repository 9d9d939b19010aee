package tmpl

import (
	"strings"
)

// Evaluator resolves expressions against a render context.
//
// Lookups are permissive: an undefined name evaluates to Null. With Strict set,
// an undefined top-level name fails with UndefinedVariable instead.
type Evaluator struct {
	Strict bool
}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// Eval evaluates x in ctx.
func (e *Evaluator) Eval(x Expr, ctx *Context) (Value, error) {
	switch t := x.(type) {
	case *LiteralExpr:
		return t.Value, nil
	case *PathExpr:
		return e.evalPath(t, ctx)
	case *FilterExpr:
		in, err := e.Eval(t.Input, ctx)
		if err != nil {
			return nil, err
		}
		args := make([]Value, len(t.Args))
		for i, a := range t.Args {
			if args[i], err = e.Eval(a, ctx); err != nil {
				return nil, err
			}
		}
		return applyFilter(t, in, args)
	case *NotExpr:
		v, err := e.Eval(t.X, ctx)
		if err != nil {
			return nil, err
		}
		return BoolValue(!v.Truth()), nil
	case *BinaryExpr:
		return e.evalBinary(t, ctx)
	}
	return nil, newError(InvalidExpression, x.Position(), "unsupported expression %T", x)
}

func (e *Evaluator) evalPath(p *PathExpr, ctx *Context) (Value, error) {
	v, ok := ctx.Lookup(p.Name)
	if !ok {
		if e.Strict {
			return nil, newError(UndefinedVariable, p.Pos, "%q is not defined", p.Name)
		}
		return Null, nil
	}
	for _, seg := range p.Segments {
		if seg.Index == nil {
			v = attr(v, seg.Key)
			continue
		}
		idx, err := e.Eval(seg.Index, ctx)
		if err != nil {
			return nil, err
		}
		if v, err = index(v, idx, seg.Index.Position()); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// attr resolves a dotted segment. Maps are looked up by key and lists by a
// numeric key; everything else yields Null.
func attr(v Value, key string) Value {
	switch t := v.(type) {
	case *MapValue:
		if r, ok := t.Get(key); ok {
			return r
		}
	case ListValue:
		if n, ok := atoi(key); ok {
			return listAt(t, n)
		}
	}
	return Null
}

func index(v Value, idx Value, pos Pos) (Value, error) {
	switch t := v.(type) {
	case NullValue:
		return Null, nil
	case *MapValue:
		if idx.Kind() != KindString && idx.Kind() != KindNumber {
			return nil, newError(TypeMismatch, pos, "map index must be a string, got %s", idx.Kind())
		}
		if r, ok := t.Get(idx.String()); ok {
			return r, nil
		}
		return Null, nil
	case ListValue:
		n, ok := intArg(idx)
		if !ok {
			return nil, newError(TypeMismatch, pos, "list index must be an integer, got %s", idx.Kind())
		}
		return listAt(t, n), nil
	case StringValue:
		n, ok := intArg(idx)
		if !ok {
			return nil, newError(TypeMismatch, pos, "string index must be an integer, got %s", idx.Kind())
		}
		rs := []rune(string(t))
		if n < 0 {
			n += len(rs)
		}
		if n < 0 || n >= len(rs) {
			return Null, nil
		}
		return StringValue(rs[n]), nil
	}
	return nil, newError(TypeMismatch, pos, "cannot index %s", v.Kind())
}

// listAt returns l[n], counting from the end for negative n, or Null when out
// of range.
func listAt(l ListValue, n int) Value {
	if n < 0 {
		n += len(l)
	}
	if n < 0 || n >= len(l) {
		return Null
	}
	return l[n]
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func intArg(v Value) (int, bool) {
	n, ok := v.(NumberValue)
	if !ok {
		return 0, false
	}
	return n.Int()
}

func (e *Evaluator) evalBinary(b *BinaryExpr, ctx *Context) (Value, error) {
	x, err := e.Eval(b.X, ctx)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "and":
		if !x.Truth() {
			return x, nil
		}
		return e.Eval(b.Y, ctx)
	case "or":
		if x.Truth() {
			return x, nil
		}
		return e.Eval(b.Y, ctx)
	}
	y, err := e.Eval(b.Y, ctx)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "==":
		return BoolValue(Equal(x, y)), nil
	case "!=":
		return BoolValue(!Equal(x, y)), nil
	case "in", "not in":
		ok, err := contains(y, x, b.Pos)
		if err != nil {
			return nil, err
		}
		return BoolValue(ok == (b.Op == "in")), nil
	}
	c, err := compare(x, y, b.Pos)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "<":
		return BoolValue(c < 0), nil
	case "<=":
		return BoolValue(c <= 0), nil
	case ">":
		return BoolValue(c > 0), nil
	case ">=":
		return BoolValue(c >= 0), nil
	}
	return nil, newError(InvalidExpression, b.Pos, "unknown operator %q", b.Op)
}

// compare orders two numbers or two strings.
func compare(x, y Value, pos Pos) (int, error) {
	switch a := x.(type) {
	case NumberValue:
		if b, ok := y.(NumberValue); ok {
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
	case StringValue:
		if b, ok := y.(StringValue); ok {
			return strings.Compare(string(a), string(b)), nil
		}
	}
	return 0, newError(TypeMismatch, pos, "cannot compare %s with %s", x.Kind(), y.Kind())
}

func contains(container, needle Value, pos Pos) (bool, error) {
	switch c := container.(type) {
	case StringValue:
		s, ok := needle.(StringValue)
		if !ok {
			return false, newError(TypeMismatch, pos, "'in <string>' requires a string, got %s", needle.Kind())
		}
		return strings.Contains(string(c), string(s)), nil
	case ListValue:
		for _, v := range c {
			if Equal(v, needle) {
				return true, nil
			}
		}
		return false, nil
	case *MapValue:
		_, ok := c.Get(needle.String())
		return ok, nil
	case NullValue:
		return false, nil
	}
	return false, newError(TypeMismatch, pos, "%s is not a container", container.Kind())
}
