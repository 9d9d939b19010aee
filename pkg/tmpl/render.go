package tmpl

import (
	"bytes"
	"errors"
	"html"
	"slices"
)

// Includer resolves templates referenced by {% include %}.
type Includer interface {
	Resolve(name string) (*Resolved, error)
}

// IncluderFunc adapts a function to Includer.
type IncluderFunc func(name string) (*Resolved, error)

func (f IncluderFunc) Resolve(name string) (*Resolved, error) { return f(name) }

// Renderer walks resolved templates. It holds no per-render state and is safe
// for concurrent use.
type Renderer struct {
	Includer  Includer
	Evaluator *Evaluator
}

func NewRenderer(inc Includer) *Renderer {
	return &Renderer{Includer: inc, Evaluator: NewEvaluator()}
}

// Render produces the output of res in ctx. Expression output is always HTML
// escaped. No partial output is returned on error.
func (r *Renderer) Render(res *Resolved, ctx *Context) (string, error) {
	if ctx == nil {
		ctx = NewContext(nil)
	}
	var buf bytes.Buffer
	if err := r.renderNodes(&buf, res.Nodes, ctx, []string{res.Name}); err != nil {
		return "", withTemplate(err, res.Name)
	}
	return buf.String(), nil
}

func (r *Renderer) renderNodes(buf *bytes.Buffer, nodes []Node, ctx *Context, stack []string) error {
	for _, n := range nodes {
		switch t := n.(type) {
		case *TextNode:
			buf.WriteString(t.Text)
		case *OutputNode:
			v, err := r.Evaluator.Eval(t.Expr, ctx)
			if err != nil {
				return err
			}
			buf.WriteString(html.EscapeString(v.String()))
		case *IfNode:
			v, err := r.Evaluator.Eval(t.Cond, ctx)
			if err != nil {
				return err
			}
			branch := t.Else
			if v.Truth() {
				branch = t.Then
			}
			if err := r.renderNodes(buf, branch, ctx, stack); err != nil {
				return err
			}
		case *ForNode:
			if err := r.renderFor(buf, t, ctx, stack); err != nil {
				return err
			}
		case *BlockNode:
			if err := r.renderNodes(buf, t.Body, ctx, stack); err != nil {
				return err
			}
		case *IncludeNode:
			if err := r.renderInclude(buf, t, ctx, stack); err != nil {
				return err
			}
		case *OriginNode:
			if err := r.renderNodes(buf, t.Nodes, ctx, stack); err != nil {
				return withTemplate(err, t.Template)
			}
		case *TailwindNode:
			buf.WriteString(TailwindScript)
		case *ExtendsNode, *SuperNode:
			// Consumed by Resolve; nothing to emit when rendering a raw document.
		}
	}
	return nil
}

func (r *Renderer) renderFor(buf *bytes.Buffer, f *ForNode, ctx *Context, stack []string) error {
	v, err := r.Evaluator.Eval(f.Iterable, ctx)
	if err != nil {
		return err
	}
	var keys []Value
	var items []Value
	switch t := v.(type) {
	case ListValue:
		items = t
		for i := range t {
			keys = append(keys, NumberValue(i))
		}
	case *MapValue:
		for _, k := range t.Keys() {
			item, _ := t.Get(k)
			keys = append(keys, StringValue(k))
			items = append(items, item)
		}
	default:
		return newError(NotIterable, f.Iterable.Position(), "cannot iterate over %s", v.Kind())
	}
	if len(items) == 0 {
		return r.renderNodes(buf, f.Else, ctx, stack)
	}
	_, isMap := v.(*MapValue)
	n := len(items)
	for i, item := range items {
		scope := ctx.Child()
		scope.Set(f.Target, item)
		switch {
		case f.Key != "":
			scope.Set(f.Key, keys[i])
		case isMap && f.Target != "key":
			scope.Set("key", keys[i])
		}
		scope.Set("loop", MapOf(
			"index", i+1,
			"index0", i,
			"revindex", n-i,
			"first", i == 0,
			"last", i == n-1,
			"length", n,
		))
		if err := r.renderNodes(buf, f.Body, scope, stack); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderInclude(buf *bytes.Buffer, in *IncludeNode, ctx *Context, stack []string) error {
	if slices.Contains(stack, in.Template) {
		return newError(IncludeCycle, in.Pos, "%s includes itself via %v", in.Template, stack)
	}
	if r.Includer == nil {
		return newError(TemplateNotFound, in.Pos, "include %q: no includer configured", in.Template)
	}
	scope := ctx.Child()
	for _, a := range in.With {
		v, err := r.Evaluator.Eval(a.Expr, ctx)
		if err != nil {
			return err
		}
		scope.Set(a.Name, v)
	}
	res, err := r.Includer.Resolve(in.Template)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) && IsNotFound(err) {
			return &Error{Kind: TemplateNotFound, Pos: in.Pos, Msg: "include " + in.Template, Err: err}
		}
		return err
	}
	if err := r.renderNodes(buf, res.Nodes, scope, append(stack[:len(stack):len(stack)], in.Template)); err != nil {
		return withTemplate(err, in.Template)
	}
	return nil
}
