package tmpl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrorKind classifies an engine failure. A kind is itself an error so callers
// can test for it with errors.Is(err, tmpl.AncestorCycle).
type ErrorKind int

const (
	_ ErrorKind = iota

	// Syntax errors.
	UnmatchedCloseTag
	UnterminatedBlock
	UnterminatedTag
	MisplacedExtends
	DuplicateExtends
	DuplicateBlockName
	InvalidExpression
	InvalidTag
	UnknownTag
	MisplacedSuper

	// Resolution errors.
	TemplateNotFound
	AncestorNotFound
	AncestorCycle
	UnknownBlockOverride
	IncludeCycle

	// Evaluation errors.
	UndefinedVariable
	InvalidFilterArgument
	TypeMismatch
	NotIterable
)

var kindNames = map[ErrorKind]string{
	UnmatchedCloseTag:     "unmatched close tag",
	UnterminatedBlock:     "unterminated block",
	UnterminatedTag:       "unterminated tag",
	MisplacedExtends:      "misplaced extends",
	DuplicateExtends:      "duplicate extends",
	DuplicateBlockName:    "duplicate block name",
	InvalidExpression:     "invalid expression",
	InvalidTag:            "invalid tag",
	UnknownTag:            "unknown tag",
	MisplacedSuper:        "block.super outside of a block",
	TemplateNotFound:      "template not found",
	AncestorNotFound:      "ancestor not found",
	AncestorCycle:         "ancestor cycle",
	UnknownBlockOverride:  "unknown block override",
	IncludeCycle:          "include cycle",
	UndefinedVariable:     "undefined variable",
	InvalidFilterArgument: "invalid filter argument",
	TypeMismatch:          "type mismatch",
	NotIterable:           "not iterable",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) Error() string { return k.String() }

// Class groups error kinds by the stage that produced them.
type Class int

const (
	SyntaxError Class = iota + 1
	ResolutionError
	EvaluationError
)

func (c Class) String() string {
	switch c {
	case SyntaxError:
		return "syntax"
	case ResolutionError:
		return "resolution"
	case EvaluationError:
		return "evaluation"
	}
	return "unknown"
}

// Class reports the stage an error kind belongs to.
func (k ErrorKind) Class() Class {
	switch {
	case k >= UndefinedVariable:
		return EvaluationError
	case k >= TemplateNotFound:
		return ResolutionError
	default:
		return SyntaxError
	}
}

// Pos is a 1-based line and column in template source.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Error is the diagnostic returned by every stage of the engine. It carries the
// template identifier and source position of the offending node.
type Error struct {
	Kind     ErrorKind
	Template string
	Pos      Pos
	Msg      string
	Err      error
}

func newError(kind ErrorKind, pos Pos, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Error formats as "name:line:col: kind: msg: cause", omitting empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Template != "" {
		b.WriteString(e.Template)
		b.WriteByte(':')
	}
	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteByte(':')
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches an ErrorKind target against the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", e.Kind.String()),
		slog.String("class", e.Kind.Class().String()),
	}
	if e.Template != "" {
		attrs = append(attrs, slog.String("template", e.Template))
	}
	if e.Pos.IsValid() {
		attrs = append(attrs, slog.Int("line", e.Pos.Line), slog.Int("col", e.Pos.Col))
	}
	if e.Msg != "" {
		attrs = append(attrs, slog.String("msg", e.Msg))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// withTemplate stamps the template name on engine errors that do not have one yet.
func withTemplate(err error, name string) error {
	var te *Error
	if errors.As(err, &te) && te.Template == "" {
		te.Template = name
	}
	return err
}

// ErrTemplateNotFound is returned by loaders for unknown identifiers.
type ErrTemplateNotFound struct{ Name string }

func (e ErrTemplateNotFound) Error() string { return "template not found: " + e.Name }

// Is lets errors.Is(err, tmpl.TemplateNotFound) match loader misses too.
func (e ErrTemplateNotFound) Is(target error) bool { return target == TemplateNotFound }

// IsNotFound reports whether err is a loader miss.
func IsNotFound(err error) bool {
	var nf ErrTemplateNotFound
	return errors.As(err, &nf)
}
