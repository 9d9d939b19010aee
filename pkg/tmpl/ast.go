package tmpl

// Node is any AST node in a parsed template.
type Node interface {
	node()
}

// Document is the root node produced by Parse.
type Document struct {
	Name  string
	Nodes []Node
}

func (*Document) node() {}

// Extends returns the parent identifier declared by the document, if any.
func (d *Document) Extends() (string, bool) {
	for _, n := range d.Nodes {
		if en, ok := n.(*ExtendsNode); ok {
			return en.Template, true
		}
	}
	return "", false
}

// TextNode represents literal text between tags.
type TextNode struct {
	Text string
}

func (*TextNode) node() {}

// OutputNode represents an interpolated expression: {{ expr }}
type OutputNode struct {
	Expr Expr
	Pos  Pos
}

func (*OutputNode) node() {}

// IfNode represents an if/else block. An elif chain is stored as a nested
// IfNode that is the only node of Else.
type IfNode struct {
	Cond Expr
	Then []Node
	Else []Node
	Pos  Pos
}

func (*IfNode) node() {}

// ForNode represents a for loop: {% for target in iterable %} or
// {% for key, target in iterable %}.
type ForNode struct {
	Key      string
	Target   string
	Iterable Expr
	Body     []Node
	Else     []Node
	Pos      Pos
}

func (*ForNode) node() {}

// BlockNode represents a named block for template inheritance.
type BlockNode struct {
	Name string
	Body []Node
	Pos  Pos
}

func (*BlockNode) node() {}

// OriginNode groups nodes that Resolve copied from one template of an
// inheritance chain, so diagnostics name the file the nodes came from.
type OriginNode struct {
	Template string
	Nodes    []Node
}

func (*OriginNode) node() {}

// ExtendsNode declares that this template extends a parent template.
type ExtendsNode struct {
	Template string
	Pos      Pos
}

func (*ExtendsNode) node() {}

// IncludeArg is one name=expr override of an include tag.
type IncludeArg struct {
	Name string
	Expr Expr
}

// IncludeNode includes another template by name, optionally with context
// overrides: {% include "card.html" with title=post.title %}
type IncludeNode struct {
	Template string
	With     []IncludeArg
	Pos      Pos
}

func (*IncludeNode) node() {}

// SuperNode is the {{ block.super }} marker: the enclosing block's content as
// defined by the nearest ancestor.
type SuperNode struct {
	Pos Pos
}

func (*SuperNode) node() {}

// TailwindNode is the {% tailwind %} tag.
type TailwindNode struct {
	Pos Pos
}

func (*TailwindNode) node() {}

// TailwindScript is the markup emitted for {% tailwind %}.
const TailwindScript = `<script src="https://cdn.tailwindcss.com"></script>`
