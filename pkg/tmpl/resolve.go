package tmpl

import (
	"errors"
	"strings"
)

// DocumentFunc returns the parsed document for a template identifier.
type DocumentFunc func(name string) (*Document, error)

// Resolved is a template after inheritance layering, ready to render.
type Resolved struct {
	Name  string
	Nodes []Node
	// Deps lists the ancestors the result was built from, nearest first.
	Deps []string
}

// Resolve follows the extends chain of name and layers block definitions from
// the root template down to the leaf. Templates are referenced by identifier so
// a chain that revisits one fails with AncestorCycle.
func Resolve(name string, load DocumentFunc) (*Resolved, error) {
	var chain []*Document
	visited := map[string]bool{}
	var path []string
	cur := name
	var ext *ExtendsNode
	for {
		if visited[cur] {
			child := chain[len(chain)-1]
			return nil, &Error{
				Kind:     AncestorCycle,
				Template: child.Name,
				Pos:      ext.Pos,
				Msg:      strings.Join(append(path, cur), " -> "),
			}
		}
		visited[cur] = true
		path = append(path, cur)
		doc, err := load(cur)
		if err != nil {
			if len(chain) > 0 && errors.Is(err, TemplateNotFound) {
				child := chain[len(chain)-1]
				return nil, &Error{
					Kind:     AncestorNotFound,
					Template: child.Name,
					Pos:      ext.Pos,
					Msg:      "parent " + cur + " does not exist",
					Err:      err,
				}
			}
			return nil, err
		}
		chain = append(chain, doc)
		ext = extendsNode(doc)
		if ext == nil {
			break
		}
		cur = ext.Template
	}

	r := &resolver{defs: make([]map[string]*BlockNode, len(chain)), chain: chain, active: map[string]bool{}}
	for i, doc := range chain {
		r.defs[i] = map[string]*BlockNode{}
		collectBlocks(doc.Nodes, r.defs[i])
	}
	for i := 0; i < len(chain)-1; i++ {
		for bname, bn := range r.defs[i] {
			if !r.declaredAbove(bname, i) {
				return nil, &Error{
					Kind:     UnknownBlockOverride,
					Template: chain[i].Name,
					Pos:      bn.Pos,
					Msg:      "block " + bname + " is not declared by any ancestor",
				}
			}
		}
	}

	root := chain[len(chain)-1]
	nodes, err := r.substitute(root.Nodes, "", len(chain)-1)
	if err != nil {
		return nil, err
	}
	res := &Resolved{Name: name, Nodes: r.origin(len(chain)-1, nodes)}
	for _, d := range chain[1:] {
		res.Deps = append(res.Deps, d.Name)
	}
	return res, nil
}

func extendsNode(doc *Document) *ExtendsNode {
	for _, n := range doc.Nodes {
		if en, ok := n.(*ExtendsNode); ok {
			return en
		}
	}
	return nil
}

// collectBlocks indexes every block of a template by name, at any depth.
func collectBlocks(nodes []Node, into map[string]*BlockNode) {
	for _, n := range nodes {
		switch t := n.(type) {
		case *BlockNode:
			into[t.Name] = t
			collectBlocks(t.Body, into)
		case *IfNode:
			collectBlocks(t.Then, into)
			collectBlocks(t.Else, into)
		case *ForNode:
			collectBlocks(t.Body, into)
			collectBlocks(t.Else, into)
		}
	}
}

// resolver holds the per-level block maps of a chain. Level 0 is the leaf,
// the last level is the root.
type resolver struct {
	chain  []*Document
	defs   []map[string]*BlockNode
	active map[string]bool
}

func (r *resolver) declaredAbove(name string, level int) bool {
	for j := level + 1; j < len(r.defs); j++ {
		if _, ok := r.defs[j][name]; ok {
			return true
		}
	}
	return false
}

// block returns the effective body of name using the deepest definition at or
// above level. A name with no definition resolves to no nodes.
func (r *resolver) block(name string, from int) ([]Node, error) {
	for i := from; i < len(r.defs); i++ {
		bn, ok := r.defs[i][name]
		if !ok {
			continue
		}
		if r.active[name] {
			return nil, &Error{Kind: AncestorCycle, Template: r.chain[i].Name, Pos: bn.Pos, Msg: "block " + name + " contains itself"}
		}
		r.active[name] = true
		defer delete(r.active, name)
		body, err := r.substitute(bn.Body, name, i)
		if err != nil {
			return nil, err
		}
		return r.origin(i, body), nil
	}
	return nil, nil
}

// origin tags nodes substituted from level with the template they came from.
// A template without ancestors needs no tagging.
func (r *resolver) origin(level int, nodes []Node) []Node {
	if len(r.chain) == 1 || len(nodes) == 0 {
		return nodes
	}
	return []Node{&OriginNode{Template: r.chain[level].Name, Nodes: nodes}}
}

// substitute copies nodes defined at level, replacing nested blocks by their
// effective bodies and each SuperNode by the body of the enclosing block one
// level up.
func (r *resolver) substitute(nodes []Node, enclosing string, level int) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch t := n.(type) {
		case *ExtendsNode:
		case *SuperNode:
			parent, err := r.parent(enclosing, level)
			if err != nil {
				return nil, err
			}
			out = append(out, parent...)
		case *BlockNode:
			body, err := r.block(t.Name, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, &BlockNode{Name: t.Name, Body: body, Pos: t.Pos})
		case *IfNode:
			then, err := r.substitute(t.Then, enclosing, level)
			if err != nil {
				return nil, err
			}
			els, err := r.substitute(t.Else, enclosing, level)
			if err != nil {
				return nil, err
			}
			out = append(out, &IfNode{Cond: t.Cond, Then: then, Else: els, Pos: t.Pos})
		case *ForNode:
			body, err := r.substitute(t.Body, enclosing, level)
			if err != nil {
				return nil, err
			}
			els, err := r.substitute(t.Else, enclosing, level)
			if err != nil {
				return nil, err
			}
			out = append(out, &ForNode{Key: t.Key, Target: t.Target, Iterable: t.Iterable, Body: body, Else: els, Pos: t.Pos})
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

// parent resolves block.super inside the definition of name at level. The
// active marker is lifted while the ancestor body is expanded since that body
// legitimately belongs to the same block.
func (r *resolver) parent(name string, level int) ([]Node, error) {
	if name == "" {
		return nil, nil
	}
	delete(r.active, name)
	defer func() { r.active[name] = true }()
	return r.block(name, level+1)
}
