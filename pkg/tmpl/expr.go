package tmpl

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Expr is an expression inside {{ }} or a tag.
type Expr interface {
	expr()
	Position() Pos
}

// Segment is one step of a variable path after the leading name: either a
// static key (.name or .0) or a bracketed index expression.
type Segment struct {
	Key   string
	Index Expr
}

// PathExpr is a variable reference such as user.name or items[0].
type PathExpr struct {
	Name     string
	Segments []Segment
	Pos      Pos
}

// LiteralExpr is a string, number, boolean or null literal.
type LiteralExpr struct {
	Value Value
	Pos   Pos
}

// FilterExpr applies a named filter to Input: x|default:"y".
type FilterExpr struct {
	Input Expr
	Name  string
	Args  []Expr
	Pos   Pos
}

// NotExpr negates the truthiness of X.
type NotExpr struct {
	X   Expr
	Pos Pos
}

// BinaryExpr is a boolean or comparison operation.
type BinaryExpr struct {
	Op  string
	X   Expr
	Y   Expr
	Pos Pos
}

func (*PathExpr) expr()    {}
func (*LiteralExpr) expr() {}
func (*FilterExpr) expr()  {}
func (*NotExpr) expr()     {}
func (*BinaryExpr) expr()  {}

func (e *PathExpr) Position() Pos    { return e.Pos }
func (e *LiteralExpr) Position() Pos { return e.Pos }
func (e *FilterExpr) Position() Pos  { return e.Pos }
func (e *NotExpr) Position() Pos     { return e.Pos }
func (e *BinaryExpr) Position() Pos  { return e.Pos }

// isSuper reports whether e is the parent-content marker block.super.
func isSuper(e Expr) bool {
	p, ok := e.(*PathExpr)
	return ok && p.Name == "block" && len(p.Segments) == 1 && p.Segments[0].Key == "super"
}

type etokKind int

const (
	etEOF etokKind = iota
	etIdent
	etNumber
	etString
	etPunct
)

type etok struct {
	kind etokKind
	val  string
	pos  Pos
}

// scanExpr splits expression source into tokens. base is the position of the
// first byte of src.
func scanExpr(src string, base Pos) ([]etok, error) {
	var toks []etok
	line, col := base.Line, base.Col
	i := 0
	advance := func(n int) {
		for _, r := range src[i : i+n] {
			if r == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
		i += n
	}
	for i < len(src) {
		c := src[i]
		pos := Pos{Line: line, Col: col}
		switch {
		case isSpace(c):
			advance(1)
		case c == '"' || c == '\'':
			j := i + 1
			var b strings.Builder
			closed := false
			for j < len(src) {
				if src[j] == '\\' && j+1 < len(src) {
					switch src[j+1] {
					case 'n':
						b.WriteByte('\n')
					case 't':
						b.WriteByte('\t')
					default:
						b.WriteByte(src[j+1])
					}
					j += 2
					continue
				}
				if src[j] == c {
					closed = true
					break
				}
				b.WriteByte(src[j])
				j++
			}
			if !closed {
				return nil, newError(InvalidExpression, pos, "unterminated string literal")
			}
			toks = append(toks, etok{kind: etString, val: b.String(), pos: pos})
			advance(j + 1 - i)
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, etok{kind: etNumber, val: src[i:j], pos: pos})
			advance(j - i)
		case c == '_' || c < utf8.RuneSelf && unicode.IsLetter(rune(c)) || c >= utf8.RuneSelf:
			j := i
			for j < len(src) {
				r, size := utf8.DecodeRuneInString(src[j:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += size
			}
			if j == i {
				return nil, newError(InvalidExpression, pos, "unexpected character %q", src[i:i+1])
			}
			toks = append(toks, etok{kind: etIdent, val: src[i:j], pos: pos})
			advance(j - i)
		default:
			op := src[i : i+1]
			if i+1 < len(src) {
				switch src[i : i+2] {
				case "==", "!=", "<=", ">=":
					op = src[i : i+2]
				}
			}
			if !strings.Contains(".|:,()[]=<>!-", op[:1]) || op == "!" {
				return nil, newError(InvalidExpression, pos, "unexpected character %q", op)
			}
			toks = append(toks, etok{kind: etPunct, val: op, pos: pos})
			advance(len(op))
		}
	}
	toks = append(toks, etok{kind: etEOF, pos: Pos{Line: line, Col: col}})
	return toks, nil
}

type exprParser struct {
	toks []etok
	i    int
}

func newExprParser(src string, base Pos) (*exprParser, error) {
	toks, err := scanExpr(src, base)
	if err != nil {
		return nil, err
	}
	return &exprParser{toks: toks}, nil
}

func (p *exprParser) peek() etok { return p.toks[p.i] }

func (p *exprParser) next() etok {
	t := p.toks[p.i]
	if t.kind != etEOF {
		p.i++
	}
	return t
}

func (p *exprParser) isPunct(v string) bool {
	t := p.peek()
	return t.kind == etPunct && t.val == v
}

func (p *exprParser) isKeyword(v string) bool {
	t := p.peek()
	return t.kind == etIdent && t.val == v
}

func (p *exprParser) expectPunct(v string) error {
	t := p.next()
	if t.kind != etPunct || t.val != v {
		return newError(InvalidExpression, t.pos, "expected %q, got %s", v, describe(t))
	}
	return nil
}

func (p *exprParser) expectEOF() error {
	if t := p.peek(); t.kind != etEOF {
		return newError(InvalidExpression, t.pos, "unexpected %s", describe(t))
	}
	return nil
}

func describe(t etok) string {
	if t.kind == etEOF {
		return "end of expression"
	}
	return strconv.Quote(t.val)
}

// ParseExpr parses a complete expression.
func ParseExpr(src string) (Expr, error) {
	return parseExprAt(src, Pos{Line: 1, Col: 1})
}

func parseExprAt(src string, base Pos) (Expr, error) {
	p, err := newExprParser(src, base)
	if err != nil {
		return nil, err
	}
	if p.peek().kind == etEOF {
		return nil, newError(InvalidExpression, base, "empty expression")
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *exprParser) parseOr() (Expr, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		t := p.next()
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Op: "or", X: x, Y: y, Pos: t.pos}
	}
	return x, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		t := p.next()
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Op: "and", X: x, Y: y, Pos: t.pos}
	}
	return x, nil
}

func (p *exprParser) parseNot() (Expr, error) {
	if p.isKeyword("not") {
		t := p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x, Pos: t.pos}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (Expr, error) {
	x, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	var op string
	switch {
	case t.kind == etPunct && (t.val == "==" || t.val == "!=" || t.val == "<" || t.val == ">" || t.val == "<=" || t.val == ">="):
		op = t.val
		p.next()
	case t.kind == etIdent && t.val == "in":
		op = "in"
		p.next()
	case t.kind == etIdent && t.val == "not" && p.toks[p.i+1].kind == etIdent && p.toks[p.i+1].val == "in":
		op = "not in"
		p.next()
		p.next()
	default:
		return x, nil
	}
	y, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, X: x, Y: y, Pos: t.pos}, nil
}

func (p *exprParser) parseFiltered() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("|") {
		p.next()
		name := p.next()
		if name.kind != etIdent {
			return nil, newError(InvalidExpression, name.pos, "expected filter name, got %s", describe(name))
		}
		if _, ok := builtinFilters[name.val]; !ok {
			return nil, newError(InvalidExpression, name.pos, "unknown filter %q", name.val)
		}
		f := &FilterExpr{Input: x, Name: name.val, Pos: name.pos}
		switch {
		case p.isPunct(":"):
			p.next()
			arg, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			f.Args = []Expr{arg}
		case p.isPunct("("):
			p.next()
			for !p.isPunct(")") {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				f.Args = append(f.Args, arg)
				if !p.isPunct(",") {
					break
				}
				p.next()
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		}
		x = f
	}
	return x, nil
}

func (p *exprParser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case etString:
		return &LiteralExpr{Value: StringValue(t.val), Pos: t.pos}, nil
	case etNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, newError(InvalidExpression, t.pos, "invalid number %q", t.val)
		}
		return &LiteralExpr{Value: NumberValue(f), Pos: t.pos}, nil
	case etPunct:
		switch t.val {
		case "-":
			n := p.next()
			if n.kind != etNumber {
				return nil, newError(InvalidExpression, n.pos, "expected number after '-', got %s", describe(n))
			}
			f, err := strconv.ParseFloat(n.val, 64)
			if err != nil {
				return nil, newError(InvalidExpression, n.pos, "invalid number %q", n.val)
			}
			return &LiteralExpr{Value: NumberValue(-f), Pos: t.pos}, nil
		case "(":
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case etIdent:
		switch t.val {
		case "true", "True":
			return &LiteralExpr{Value: BoolValue(true), Pos: t.pos}, nil
		case "false", "False":
			return &LiteralExpr{Value: BoolValue(false), Pos: t.pos}, nil
		case "null", "none", "None", "nil":
			return &LiteralExpr{Value: Null, Pos: t.pos}, nil
		case "and", "or", "not", "in":
			return nil, newError(InvalidExpression, t.pos, "unexpected keyword %q", t.val)
		}
		return p.parsePath(t)
	}
	return nil, newError(InvalidExpression, t.pos, "unexpected %s", describe(t))
}

func (p *exprParser) parsePath(head etok) (Expr, error) {
	pe := &PathExpr{Name: head.val, Pos: head.pos}
	for {
		switch {
		case p.isPunct("."):
			p.next()
			t := p.next()
			switch t.kind {
			case etIdent:
				pe.Segments = append(pe.Segments, Segment{Key: t.val})
			case etNumber:
				// "a.0.1" scans the indexes as a single number token.
				for _, k := range strings.Split(t.val, ".") {
					if k == "" {
						return nil, newError(InvalidExpression, t.pos, "invalid path index %q", t.val)
					}
					pe.Segments = append(pe.Segments, Segment{Key: k})
				}
			default:
				return nil, newError(InvalidExpression, t.pos, "expected attribute name, got %s", describe(t))
			}
		case p.isPunct("["):
			p.next()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			pe.Segments = append(pe.Segments, Segment{Index: idx})
		default:
			return pe, nil
		}
	}
}

// parseIdent consumes a plain identifier.
func (p *exprParser) parseIdent(what string) (string, error) {
	t := p.next()
	if t.kind != etIdent {
		return "", newError(InvalidTag, t.pos, "expected %s, got %s", what, describe(t))
	}
	return t.val, nil
}

// parseString consumes a string literal.
func (p *exprParser) parseString(what string) (string, error) {
	t := p.next()
	if t.kind != etString {
		return "", newError(InvalidTag, t.pos, "%s expects a quoted template name, got %s", what, describe(t))
	}
	return t.val, nil
}
