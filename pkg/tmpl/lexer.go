package tmpl

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// The lexer scans template source and yields tokens for text and the three
// delimiter forms: variables {{ }}, tags {% %}, and comments {# #}.

type TokenKind int

const (
	TokText     TokenKind = iota
	TokVarOpen            // {{ or {{-
	TokVarClose           // }} or -}}
	TokTagOpen            // {% or {%-
	TokTagClose           // %} or -%}
	TokComment            // unterminated {# ... (complete comments are dropped)
	TokLiteral            // raw content between an open and close delimiter
)

var tokenNames = [...]string{
	TokText:     "text",
	TokVarOpen:  "{{",
	TokVarClose: "}}",
	TokTagOpen:  "{%",
	TokTagClose: "%}",
	TokComment:  "{#",
	TokLiteral:  "literal",
}

func (k TokenKind) String() string {
	if int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return "token"
}

// Token is a lexical unit with the position of its first character.
type Token struct {
	Kind TokenKind
	Val  string
	Pos  Pos
}

type lexer struct {
	src        string
	lineStarts []int
	toks       []Token
	trimNext   bool
}

// Tokenize splits src into tokens. It never fails: an unterminated variable or
// tag yields an open token and a literal with no close token, and an
// unterminated comment yields a TokComment token. The parser reports both.
func Tokenize(src string) []Token {
	l := &lexer{src: src, lineStarts: []int{0}}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			l.lineStarts = append(l.lineStarts, i+1)
		}
	}
	l.run()
	return l.toks
}

// pos converts a byte offset into a 1-based line and rune column.
func (l *lexer) pos(off int) Pos {
	line := sort.Search(len(l.lineStarts), func(i int) bool { return l.lineStarts[i] > off }) - 1
	start := l.lineStarts[line]
	return Pos{Line: line + 1, Col: utf8.RuneCountInString(l.src[start:off]) + 1}
}

func (l *lexer) emit(kind TokenKind, val string, off int) {
	l.toks = append(l.toks, Token{Kind: kind, Val: val, Pos: l.pos(off)})
}

func (l *lexer) emitText(start, end int) {
	if l.trimNext {
		for start < end && isSpace(l.src[start]) {
			start++
		}
		l.trimNext = false
	}
	if start < end {
		l.emit(TokText, l.src[start:end], start)
	}
}

// trimPrevText strips trailing whitespace from the preceding text token.
func (l *lexer) trimPrevText() {
	n := len(l.toks)
	if n == 0 || l.toks[n-1].Kind != TokText {
		return
	}
	t := strings.TrimRight(l.toks[n-1].Val, " \t\r\n")
	if t == "" {
		l.toks = l.toks[:n-1]
		return
	}
	l.toks[n-1].Val = t
}

// nextOpen finds the next opening delimiter at or after i.
func (l *lexer) nextOpen(i int) int {
	for j := i; j+1 < len(l.src); j++ {
		if l.src[j] != '{' {
			continue
		}
		switch l.src[j+1] {
		case '{', '%', '#':
			return j
		}
	}
	return -1
}

func (l *lexer) run() {
	n := len(l.src)
	i := 0
	for i < n {
		j := l.nextOpen(i)
		if j < 0 {
			l.emitText(i, n)
			return
		}
		l.emitText(i, j)

		if l.src[j+1] == '#' {
			end := strings.Index(l.src[j+2:], "#}")
			if end < 0 {
				l.emit(TokComment, l.src[j:], j)
				return
			}
			i = j + 2 + end + 2
			continue
		}

		open, closeKind, closeDelim := TokVarOpen, TokVarClose, "}}"
		if l.src[j+1] == '%' {
			open, closeKind, closeDelim = TokTagOpen, TokTagClose, "%}"
		}
		k := j + 2
		if k < n && l.src[k] == '-' {
			l.trimPrevText()
			k++
		}
		l.emit(open, "", j)

		end := strings.Index(l.src[k:], closeDelim)
		if end < 0 {
			l.emit(TokLiteral, l.src[k:], k)
			return
		}
		content := l.src[k : k+end]
		closeOff := k + end
		trimRight := strings.HasSuffix(content, "-")
		if trimRight {
			content = content[:len(content)-1]
			closeOff--
		}
		l.emit(TokLiteral, content, k)
		l.emit(closeKind, "", closeOff)
		i = k + end + 2
		l.trimNext = trimRight
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
