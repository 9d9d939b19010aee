package tmpl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseString tokenizes and parses src as the template called name.
func ParseString(name, src string) (*Document, error) {
	return Parse(name, Tokenize(src))
}

// Parse builds a Document from a token stream. It recognizes text, output
// expressions and the statements extends, block/endblock, if/elif/else/endif,
// for/else/endfor, include and tailwind. Errors carry name and position.
func Parse(name string, toks []Token) (*Document, error) {
	doc := &Document{Name: name}
	p := &parser{toks: toks, blocks: map[string]Pos{}}
	p.stack = []*frame{{body: &doc.Nodes}}
	if err := p.run(); err != nil {
		return nil, withTemplate(err, name)
	}
	return doc, nil
}

// frame is one open tag on the parser stack. Children are appended to body;
// node is attached to the enclosing frame when the closing tag pops it.
type frame struct {
	tag    string
	pos    Pos
	node   Node
	body   *[]Node
	cur    *IfNode
	inElse bool
}

type parser struct {
	toks     []Token
	i        int
	stack    []*frame
	blocks   map[string]Pos
	extended bool
}

func (p *parser) top() *frame { return p.stack[len(p.stack)-1] }

func (p *parser) push(f *frame) { p.stack = append(p.stack, f) }

func (p *parser) pop() *frame {
	f := p.top()
	p.stack = p.stack[:len(p.stack)-1]
	p.emit(f.node)
	return f
}

func (p *parser) emit(n Node) {
	f := p.top()
	*f.body = append(*f.body, n)
}

func (p *parser) inBlock() bool {
	for _, f := range p.stack {
		if f.tag == "block" {
			return true
		}
	}
	return false
}

func (p *parser) run() error {
	for p.i < len(p.toks) {
		t := p.toks[p.i]
		p.i++
		switch t.Kind {
		case TokText:
			p.emit(&TextNode{Text: t.Val})
		case TokComment:
			return newError(UnterminatedTag, t.Pos, "unterminated comment, expected #}")
		case TokVarOpen, TokTagOpen:
			lit, err := p.delimited(t)
			if err != nil {
				return err
			}
			if t.Kind == TokVarOpen {
				err = p.output(lit)
			} else {
				err = p.statement(lit)
			}
			if err != nil {
				return err
			}
		default:
			return newError(InvalidTag, t.Pos, "unexpected %s", t.Kind)
		}
	}
	if len(p.stack) > 1 {
		f := p.top()
		return newError(UnterminatedBlock, f.pos, "%s is never closed, expected end%s", f.tag, f.tag)
	}
	return nil
}

// delimited consumes the literal and close token that follow an open token.
func (p *parser) delimited(open Token) (Token, error) {
	closeKind, delim := TokVarClose, "}}"
	if open.Kind == TokTagOpen {
		closeKind, delim = TokTagClose, "%}"
	}
	if p.i+1 >= len(p.toks) || p.toks[p.i].Kind != TokLiteral || p.toks[p.i+1].Kind != closeKind {
		return Token{}, newError(UnterminatedTag, open.Pos, "expected %s", delim)
	}
	lit := p.toks[p.i]
	p.i += 2
	return lit, nil
}

func (p *parser) output(lit Token) error {
	e, err := parseExprAt(lit.Val, lit.Pos)
	if err != nil {
		return err
	}
	if isSuper(e) {
		if !p.inBlock() {
			return newError(MisplacedSuper, e.Position(), "block.super used outside of a block")
		}
		p.emit(&SuperNode{Pos: e.Position()})
		return nil
	}
	p.emit(&OutputNode{Expr: e, Pos: e.Position()})
	return nil
}

// splitStatement returns the keyword of a tag, its position and the position
// and text of the remaining arguments.
func splitStatement(lit Token) (kw string, kwPos Pos, args string, argsPos Pos) {
	s := lit.Val
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	j := i
	for j < len(s) {
		r, size := utf8.DecodeRuneInString(s[j:])
		if r != '_' && !unicode.IsLetter(r) {
			break
		}
		j += size
	}
	kwPos = advancePos(lit.Pos, s[:i])
	return s[i:j], kwPos, s[j:], advancePos(lit.Pos, s[:j])
}

func advancePos(p Pos, s string) Pos {
	for _, r := range s {
		if r == '\n' {
			p.Line++
			p.Col = 1
		} else {
			p.Col++
		}
	}
	return p
}

func (p *parser) statement(lit Token) error {
	kw, pos, args, argsPos := splitStatement(lit)
	switch kw {
	case "":
		return newError(InvalidTag, pos, "empty tag")
	case "extends":
		return p.parseExtends(pos, args, argsPos)
	case "block":
		return p.parseBlock(pos, args, argsPos)
	case "endblock":
		return p.parseEndblock(pos, args, argsPos)
	case "if":
		cond, err := parseExprAt(args, argsPos)
		if err != nil {
			return err
		}
		n := &IfNode{Cond: cond, Pos: pos}
		p.push(&frame{tag: "if", pos: pos, node: n, body: &n.Then, cur: n})
		return nil
	case "elif":
		f := p.top()
		if f.tag != "if" || f.inElse {
			return newError(UnmatchedCloseTag, pos, "elif without a matching if")
		}
		cond, err := parseExprAt(args, argsPos)
		if err != nil {
			return err
		}
		n := &IfNode{Cond: cond, Pos: pos}
		f.cur.Else = []Node{n}
		f.cur = n
		f.body = &n.Then
		return nil
	case "else":
		if err := noArgs(kw, args, argsPos); err != nil {
			return err
		}
		f := p.top()
		if (f.tag != "if" && f.tag != "for") || f.inElse {
			return newError(UnmatchedCloseTag, pos, "else without a matching if or for")
		}
		f.inElse = true
		if f.tag == "if" {
			f.body = &f.cur.Else
		} else {
			f.body = &f.node.(*ForNode).Else
		}
		return nil
	case "endif", "endfor":
		if err := noArgs(kw, args, argsPos); err != nil {
			return err
		}
		if p.top().tag != kw[3:] {
			return newError(UnmatchedCloseTag, pos, "%s without a matching %s", kw, kw[3:])
		}
		p.pop()
		return nil
	case "for":
		return p.parseFor(pos, args, argsPos)
	case "include":
		return p.parseInclude(pos, args, argsPos)
	case "tailwind":
		if err := noArgs(kw, args, argsPos); err != nil {
			return err
		}
		p.emit(&TailwindNode{Pos: pos})
		return nil
	}
	return newError(UnknownTag, pos, "unknown tag %q", kw)
}

func noArgs(kw, args string, pos Pos) error {
	if strings.TrimSpace(args) != "" {
		return newError(InvalidTag, pos, "%s takes no arguments", kw)
	}
	return nil
}

func (p *parser) parseExtends(pos Pos, args string, argsPos Pos) error {
	if p.extended {
		return newError(DuplicateExtends, pos, "template extends more than one parent")
	}
	if len(p.stack) > 1 {
		return newError(MisplacedExtends, pos, "extends must be a top-level tag")
	}
	for _, n := range *p.top().body {
		if tn, ok := n.(*TextNode); !ok || strings.TrimSpace(tn.Text) != "" {
			return newError(MisplacedExtends, pos, "extends must be the first tag in the template")
		}
	}
	ep, err := newExprParser(args, argsPos)
	if err != nil {
		return err
	}
	parent, err := ep.parseString("extends")
	if err != nil {
		return err
	}
	if err := ep.expectEOF(); err != nil {
		return err
	}
	if parent == "" {
		return newError(InvalidTag, argsPos, "extends expects a non-empty template name")
	}
	p.extended = true
	p.emit(&ExtendsNode{Template: parent, Pos: pos})
	return nil
}

func (p *parser) parseBlock(pos Pos, args string, argsPos Pos) error {
	ep, err := newExprParser(args, argsPos)
	if err != nil {
		return err
	}
	name, err := ep.parseIdent("block name")
	if err != nil {
		return err
	}
	if err := ep.expectEOF(); err != nil {
		return err
	}
	if prev, ok := p.blocks[name]; ok {
		return newError(DuplicateBlockName, pos, "block %q already defined at %s", name, prev)
	}
	p.blocks[name] = pos
	n := &BlockNode{Name: name, Pos: pos}
	p.push(&frame{tag: "block", pos: pos, node: n, body: &n.Body})
	return nil
}

func (p *parser) parseEndblock(pos Pos, args string, argsPos Pos) error {
	f := p.top()
	if f.tag != "block" {
		return newError(UnmatchedCloseTag, pos, "endblock without a matching block")
	}
	if strings.TrimSpace(args) != "" {
		ep, err := newExprParser(args, argsPos)
		if err != nil {
			return err
		}
		name, err := ep.parseIdent("block name")
		if err != nil {
			return err
		}
		if err := ep.expectEOF(); err != nil {
			return err
		}
		if open := f.node.(*BlockNode).Name; name != open {
			return newError(UnmatchedCloseTag, pos, "endblock %q does not match block %q", name, open)
		}
	}
	p.pop()
	return nil
}

func (p *parser) parseFor(pos Pos, args string, argsPos Pos) error {
	ep, err := newExprParser(args, argsPos)
	if err != nil {
		return err
	}
	n := &ForNode{Pos: pos}
	if n.Target, err = ep.parseIdent("loop variable"); err != nil {
		return err
	}
	if ep.isPunct(",") {
		ep.next()
		n.Key = n.Target
		if n.Target, err = ep.parseIdent("loop variable"); err != nil {
			return err
		}
	}
	if !ep.isKeyword("in") {
		t := ep.peek()
		return newError(InvalidTag, t.pos, "expected \"in\", got %s", describe(t))
	}
	ep.next()
	if ep.peek().kind == etEOF {
		return newError(InvalidExpression, ep.peek().pos, "for loop needs an iterable")
	}
	if n.Iterable, err = ep.parseOr(); err != nil {
		return err
	}
	if err := ep.expectEOF(); err != nil {
		return err
	}
	p.push(&frame{tag: "for", pos: pos, node: n, body: &n.Body})
	return nil
}

func (p *parser) parseInclude(pos Pos, args string, argsPos Pos) error {
	ep, err := newExprParser(args, argsPos)
	if err != nil {
		return err
	}
	name, err := ep.parseString("include")
	if err != nil {
		return err
	}
	n := &IncludeNode{Template: name, Pos: pos}
	if ep.isKeyword("with") {
		ep.next()
		for ep.peek().kind != etEOF {
			key, err := ep.parseIdent("include argument name")
			if err != nil {
				return err
			}
			if err := ep.expectPunct("="); err != nil {
				return err
			}
			e, err := ep.parseOr()
			if err != nil {
				return err
			}
			n.With = append(n.With, IncludeArg{Name: key, Expr: e})
		}
		if len(n.With) == 0 {
			return newError(InvalidTag, pos, "include with needs at least one name=value pair")
		}
	}
	if err := ep.expectEOF(); err != nil {
		return err
	}
	p.emit(n)
	return nil
}
