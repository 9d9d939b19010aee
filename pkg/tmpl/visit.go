package tmpl

import (
	"bytes"
	"fmt"
	"strings"
)

type Visitor interface {
	Visit(n Node) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	var lists [][]Node
	switch t := n.(type) {
	case *Document:
		lists = [][]Node{t.Nodes}
	case *IfNode:
		lists = [][]Node{t.Then, t.Else}
	case *ForNode:
		lists = [][]Node{t.Body, t.Else}
	case *BlockNode:
		lists = [][]Node{t.Body}
	case *OriginNode:
		lists = [][]Node{t.Nodes}
	}
	for _, l := range lists {
		for _, c := range l {
			if err := Walk(v, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pretty returns a line-oriented string representation of the AST.
func Pretty(doc *Document) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, doc)
	return buf.String()
}

// PrettyResolved is Pretty for a resolved template.
func PrettyResolved(res *Resolved) string {
	return Pretty(&Document{Name: res.Name, Nodes: res.Nodes})
}

// ppNodes prints nodes at indent. Origin groups are transparent.
func ppNodes(buf *bytes.Buffer, indent int, nodes []Node) {
	for _, c := range nodes {
		if o, ok := c.(*OriginNode); ok {
			ppNodes(buf, indent, o.Nodes)
			continue
		}
		ppNode(buf, indent, c)
	}
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	buf.WriteString(strings.Repeat(" ", indent))
	switch t := n.(type) {
	case *Document:
		fmt.Fprintf(buf, "Document(%s)\n", t.Name)
		ppNodes(buf, indent+2, t.Nodes)
	case *TextNode:
		fmt.Fprintf(buf, "Text(%q)\n", t.Text)
	case *OutputNode:
		fmt.Fprintf(buf, "Output(%s)\n", FormatExpr(t.Expr))
	case *IfNode:
		fmt.Fprintf(buf, "If(%s)\n", FormatExpr(t.Cond))
		ppNodes(buf, indent+2, t.Then)
		if len(t.Else) > 0 {
			buf.WriteString(strings.Repeat(" ", indent))
			buf.WriteString("Else\n")
			ppNodes(buf, indent+2, t.Else)
		}
	case *ForNode:
		target := t.Target
		if t.Key != "" {
			target = t.Key + ", " + t.Target
		}
		fmt.Fprintf(buf, "For(%s in %s)\n", target, FormatExpr(t.Iterable))
		ppNodes(buf, indent+2, t.Body)
		if len(t.Else) > 0 {
			buf.WriteString(strings.Repeat(" ", indent))
			buf.WriteString("Else\n")
			ppNodes(buf, indent+2, t.Else)
		}
	case *BlockNode:
		fmt.Fprintf(buf, "Block(%s)\n", t.Name)
		ppNodes(buf, indent+2, t.Body)
	case *ExtendsNode:
		fmt.Fprintf(buf, "Extends(%q)\n", t.Template)
	case *IncludeNode:
		fmt.Fprintf(buf, "Include(%q", t.Template)
		for _, a := range t.With {
			fmt.Fprintf(buf, " %s=%s", a.Name, FormatExpr(a.Expr))
		}
		buf.WriteString(")\n")
	case *SuperNode:
		buf.WriteString("Super\n")
	case *TailwindNode:
		buf.WriteString("Tailwind\n")
	default:
		fmt.Fprintf(buf, "%T\n", n)
	}
}

// FormatExpr renders an expression back to template syntax.
func FormatExpr(e Expr) string {
	switch t := e.(type) {
	case *LiteralExpr:
		if s, ok := t.Value.(StringValue); ok {
			return fmt.Sprintf("%q", string(s))
		}
		if t.Value.Kind() == KindNull {
			return "null"
		}
		return t.Value.String()
	case *PathExpr:
		var b strings.Builder
		b.WriteString(t.Name)
		for _, s := range t.Segments {
			if s.Index != nil {
				b.WriteString("[" + FormatExpr(s.Index) + "]")
				continue
			}
			b.WriteString("." + s.Key)
		}
		return b.String()
	case *FilterExpr:
		var b strings.Builder
		b.WriteString(FormatExpr(t.Input) + "|" + t.Name)
		if len(t.Args) > 0 {
			args := make([]string, len(t.Args))
			for i, a := range t.Args {
				args[i] = FormatExpr(a)
			}
			b.WriteString("(" + strings.Join(args, ", ") + ")")
		}
		return b.String()
	case *NotExpr:
		return "not " + FormatExpr(t.X)
	case *BinaryExpr:
		return "(" + FormatExpr(t.X) + " " + t.Op + " " + FormatExpr(t.Y) + ")"
	}
	return fmt.Sprintf("%T", e)
}
