package tmpl

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var astOpts = cmp.Options{cmpopts.IgnoreTypes(Pos{}), cmpopts.EquateEmpty()}

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := ParseString("t", src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return doc
}

func TestParseTextAndOutput(t *testing.T) {
	doc := mustParse(t, "Hello {{ name }}!")
	want := &Document{Name: "t", Nodes: []Node{
		&TextNode{Text: "Hello "},
		&OutputNode{Expr: &PathExpr{Name: "name"}},
		&TextNode{Text: "!"},
	}}
	if diff := cmp.Diff(want, doc, astOpts); diff != "" {
		t.Fatalf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIfElifElse(t *testing.T) {
	doc := mustParse(t, "{% if a %}A{% elif b %}B{% else %}C{% endif %}")
	want := &Document{Name: "t", Nodes: []Node{
		&IfNode{
			Cond: &PathExpr{Name: "a"},
			Then: []Node{&TextNode{Text: "A"}},
			Else: []Node{&IfNode{
				Cond: &PathExpr{Name: "b"},
				Then: []Node{&TextNode{Text: "B"}},
				Else: []Node{&TextNode{Text: "C"}},
			}},
		},
	}}
	if diff := cmp.Diff(want, doc, astOpts); diff != "" {
		t.Fatalf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParseForAndBlocks(t *testing.T) {
	doc := mustParse(t, `{% extends "base.html" %}{% block body %}{% for k, v in site.pages %}{{ v.title|default:"untitled" }}{% else %}none{% endfor %}{% endblock body %}`)
	want := &Document{Name: "t", Nodes: []Node{
		&ExtendsNode{Template: "base.html"},
		&BlockNode{Name: "body", Body: []Node{
			&ForNode{
				Key:      "k",
				Target:   "v",
				Iterable: &PathExpr{Name: "site", Segments: []Segment{{Key: "pages"}}},
				Body: []Node{&OutputNode{Expr: &FilterExpr{
					Input: &PathExpr{Name: "v", Segments: []Segment{{Key: "title"}}},
					Name:  "default",
					Args:  []Expr{&LiteralExpr{Value: StringValue("untitled")}},
				}}},
				Else: []Node{&TextNode{Text: "none"}},
			},
		}},
	}}
	if diff := cmp.Diff(want, doc, astOpts); diff != "" {
		t.Fatalf("AST mismatch (-want +got):\n%s", diff)
	}
	if parent, ok := doc.Extends(); !ok || parent != "base.html" {
		t.Fatalf("Extends() = %q, %v", parent, ok)
	}
}

func TestParseIncludeSuperTailwind(t *testing.T) {
	doc := mustParse(t, `{% block head %}{% tailwind %}{{ block.super }}{% include "card.html" with title=post.title n=1 %}{% endblock %}`)
	want := &Document{Name: "t", Nodes: []Node{
		&BlockNode{Name: "head", Body: []Node{
			&TailwindNode{},
			&SuperNode{},
			&IncludeNode{Template: "card.html", With: []IncludeArg{
				{Name: "title", Expr: &PathExpr{Name: "post", Segments: []Segment{{Key: "title"}}}},
				{Name: "n", Expr: &LiteralExpr{Value: NumberValue(1)}},
			}},
		}},
	}}
	if diff := cmp.Diff(want, doc, astOpts); diff != "" {
		t.Fatalf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParseExpressions(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"a", "a"},
		{"a.b.0", "a.b.0"},
		{"a[b.c]", "a[b.c]"},
		{`"x"`, `"x"`},
		{"-1.5", "-1.5"},
		{"a|upper|default:'x'", `a|upper|default("x")`},
		{"not a and b or c", "((not a and b) or c)"},
		{"a == 1", "(a == 1)"},
		{"a not in b", "(a not in b)"},
		{"x|length >= 2", "(x|length >= 2)"},
		{"(a or b) and c", "((a or b) and c)"},
		{"none", "null"},
	}
	for _, tc := range cases {
		e, err := ParseExpr(tc.src)
		if err != nil {
			t.Errorf("%q: %v", tc.src, err)
			continue
		}
		if got := FormatExpr(e); got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src  string
		kind ErrorKind
	}{
		{"{% endif %}", UnmatchedCloseTag},
		{"{% if a %}{% endfor %}", UnmatchedCloseTag},
		{"{% block a %}{% endblock b %}", UnmatchedCloseTag},
		{"{% if a %}{% else %}{% else %}{% endif %}", UnmatchedCloseTag},
		{"{% if a %}x", UnterminatedBlock},
		{"{% block a %}{% for x in y %}", UnterminatedBlock},
		{"x{% extends 'b' %}", MisplacedExtends},
		{"{% if a %}{% extends 'b' %}{% endif %}", MisplacedExtends},
		{"{% extends 'a' %}{% extends 'b' %}", DuplicateExtends},
		{"{% block a %}{% endblock %}{% block a %}{% endblock %}", DuplicateBlockName},
		{"{% block a %}{% block a %}{% endblock %}{% endblock %}", DuplicateBlockName},
		{"{{ a | }}", InvalidExpression},
		{"{{ a|nosuch }}", InvalidExpression},
		{"{{ }}", InvalidExpression},
		{"{{ a b }}", InvalidExpression},
		{"{% if %}{% endif %}", InvalidExpression},
		{`{{ "abc }}`, InvalidExpression},
		{"{% frobnicate %}", UnknownTag},
		{"{{ block.super }}", MisplacedSuper},
		{"{{ a", UnterminatedTag},
		{"{# a", UnterminatedTag},
		{"{% include card %}", InvalidTag},
		{"{% extends base %}", InvalidTag},
		{"{% for x of y %}{% endfor %}", InvalidTag},
		{"{% endif x %}", InvalidTag},
	}
	for _, tc := range cases {
		_, err := ParseString("t", tc.src)
		if err == nil {
			t.Errorf("%q: expected %v, got nil", tc.src, tc.kind)
			continue
		}
		if !errors.Is(err, tc.kind) {
			t.Errorf("%q: expected %v, got %v", tc.src, tc.kind, err)
		}
		if tc.kind.Class() != SyntaxError {
			t.Errorf("%v: class %v", tc.kind, tc.kind.Class())
		}
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := ParseString("page.html", "line1\n  {% endfor %}")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("want *Error, got %v", err)
	}
	if te.Template != "page.html" || te.Pos != (Pos{2, 6}) {
		t.Fatalf("got template %q pos %v", te.Template, te.Pos)
	}
	if got, want := err.Error(), "page.html:2:6: unmatched close tag: endfor without a matching for"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseExtendsAfterWhitespaceAndComment(t *testing.T) {
	doc := mustParse(t, "\n  {# layout #}\n{% extends 'base' %}{% block a %}{% endblock %}")
	if parent, ok := doc.Extends(); !ok || parent != "base" {
		t.Fatalf("Extends() = %q, %v", parent, ok)
	}
}

func TestPretty(t *testing.T) {
	doc := mustParse(t, "{% for x in xs %}{{ x|upper }}{% endfor %}")
	want := "Document(t)\n  For(x in xs)\n    Output(x|upper)\n"
	if got := Pretty(doc); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWalkCountsOutputs(t *testing.T) {
	doc := mustParse(t, "{% if a %}{{ a }}{% else %}{% for x in b %}{{ x }}{% endfor %}{% endif %}")
	n := 0
	err := Walk(VisitorFunc(func(node Node) error {
		if _, ok := node.(*OutputNode); ok {
			n++
		}
		return nil
	}), doc)
	if err != nil || n != 2 {
		t.Fatalf("got %d outputs, err %v", n, err)
	}
}
