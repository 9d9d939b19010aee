package registry

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

// countingLoader is an in-memory loader that counts loads per name and can
// hold loads until released.
type countingLoader struct {
	mu      sync.Mutex
	files   map[string]string
	loads   map[string]int
	entered chan string
	gate    chan struct{}
}

func newCountingLoader(files map[string]string) *countingLoader {
	return &countingLoader{files: files, loads: map[string]int{}}
}

func (l *countingLoader) Load(name string) (tmpl.Source, error) {
	if l.entered != nil {
		l.entered <- name
	}
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[name]++
	s, ok := l.files[name]
	if !ok {
		return tmpl.Source{}, tmpl.ErrTemplateNotFound{Name: name}
	}
	return tmpl.Source{Text: s, Token: tmpl.ContentToken(s)}, nil
}

func (l *countingLoader) set(name, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[name] = text
}

func (l *countingLoader) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[name]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetCachesEntry(t *testing.T) {
	l := newCountingLoader(map[string]string{"hello": "Hello, {{ name }}!"})
	r := New(l, WithLogger(quietLogger()))
	e1, err := r.Get("hello")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := r.Get("hello")
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Fatalf("expected the cached entry to be returned")
	}
	st := r.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Compiles != 1 || st.Entries != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if e1.Template.Source.Token != tmpl.ContentToken("Hello, {{ name }}!") {
		t.Fatalf("token = %q", e1.Template.Source.Token)
	}
	out, err := r.RenderTemplate("hello", map[string]any{"name": "Cobalto"})
	if err != nil || out != "Hello, Cobalto!" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestCascadingInvalidation(t *testing.T) {
	l := newCountingLoader(map[string]string{
		"base":  "<{% block body %}base{% endblock %}>",
		"page":  `{% extends "base" %}{% block body %}page {{ block.super }}{% endblock %}`,
		"other": "other",
	})
	r := New(l, WithLogger(quietLogger()))
	for _, n := range []string{"page", "other"} {
		if _, err := r.Get(n); err != nil {
			t.Fatal(err)
		}
	}
	out, _ := r.RenderTemplate("page", nil)
	if out != "<page base>" {
		t.Fatalf("got %q", out)
	}

	l.set("base", "[{% block body %}new{% endblock %}]")
	removed := r.Invalidate("base")
	if !slices.Equal(removed, []string{"page"}) {
		t.Fatalf("removed = %v", removed)
	}
	if !slices.Equal(r.Names(), []string{"other"}) {
		t.Fatalf("names = %v", r.Names())
	}
	out, err := r.RenderTemplate("page", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "[page new]" {
		t.Fatalf("got %q after invalidation", out)
	}
	if n := l.count("page"); n != 1 {
		t.Fatalf("page loaded %d times, want 1 (raw AST reused)", n)
	}
	if n := l.count("base"); n != 2 {
		t.Fatalf("base loaded %d times, want 2", n)
	}
}

func TestInvalidateLeafKeepsAncestor(t *testing.T) {
	l := newCountingLoader(map[string]string{
		"base": "{% block b %}{% endblock %}",
		"page": "{% extends 'base' %}{% block b %}x{% endblock %}",
	})
	r := New(l, WithLogger(quietLogger()))
	r.Get("base")
	r.Get("page")
	if removed := r.Invalidate("page"); !slices.Equal(removed, []string{"page"}) {
		t.Fatalf("removed = %v", removed)
	}
	if !slices.Equal(r.Names(), []string{"base"}) {
		t.Fatalf("names = %v", r.Names())
	}
	if removed := r.Invalidate("unknown"); len(removed) != 0 {
		t.Fatalf("removed = %v", removed)
	}
}

func TestConcurrentGetCompilesOnce(t *testing.T) {
	l := newCountingLoader(map[string]string{
		"base": "{% block b %}{% endblock %}",
		"page": "{% extends 'base' %}{% block b %}{{ n }}{% endblock %}",
	})
	l.gate = make(chan struct{})
	r := New(l, WithLogger(quietLogger()))

	const workers = 32
	entries := make([]*Entry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Get("page")
			if err != nil {
				t.Error(err)
				return
			}
			entries[i] = e
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(l.gate)
	wg.Wait()

	for i := 1; i < workers; i++ {
		if entries[i] != entries[0] {
			t.Fatalf("worker %d got a different entry", i)
		}
	}
	if st := r.Stats(); st.Compiles != 1 || st.Entries != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if l.count("page") != 1 || l.count("base") != 1 {
		t.Fatalf("loads page=%d base=%d", l.count("page"), l.count("base"))
	}
}

func TestConcurrentRenders(t *testing.T) {
	l := newCountingLoader(map[string]string{
		"page": "{% for x in xs %}{{ x }}{% endfor %}",
	})
	r := New(l, WithLogger(quietLogger()))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out, err := r.RenderTemplate("page", map[string]any{"xs": []int{1, 2}})
				if err != nil || out != "12" {
					t.Errorf("got %q, %v", out, err)
					return
				}
				if j%10 == 0 {
					r.Invalidate("page")
				}
			}
		}()
	}
	wg.Wait()
}

func TestInvalidateDuringCompile(t *testing.T) {
	l := newCountingLoader(map[string]string{"page": "v1"})
	l.entered = make(chan string, 1)
	l.gate = make(chan struct{})
	r := New(l, WithLogger(quietLogger()))

	done := make(chan *Entry)
	go func() {
		e, err := r.Get("page")
		if err != nil {
			t.Error(err)
		}
		done <- e
	}()
	<-l.entered
	l.set("page", "v2")
	r.Invalidate("page")
	close(l.gate)
	<-done

	if names := r.Names(); len(names) != 0 {
		t.Fatalf("stale compile was cached: %v", names)
	}
	l.entered = nil
	out, err := r.RenderTemplate("page", nil)
	if err != nil || out != "v2" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestEvaluationErrorKeepsEntry(t *testing.T) {
	l := newCountingLoader(map[string]string{"page": "{{ n|upper }}"})
	r := New(l, WithLogger(quietLogger()))
	_, err := r.RenderTemplate("page", map[string]any{"n": 1})
	if !errors.Is(err, tmpl.TypeMismatch) {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
	out, err := r.RenderTemplate("page", map[string]any{"n": "ok"})
	if err != nil || out != "OK" {
		t.Fatalf("got %q, %v", out, err)
	}
	if st := r.Stats(); st.Compiles != 1 {
		t.Fatalf("compiles = %d", st.Compiles)
	}
}

func TestSyntaxErrorRecoversAfterFix(t *testing.T) {
	l := newCountingLoader(map[string]string{"page": "{% if x %}"})
	r := New(l, WithLogger(quietLogger()))
	_, err := r.Get("page")
	var te *tmpl.Error
	if !errors.As(err, &te) || te.Kind != tmpl.UnterminatedBlock || te.Template != "page" {
		t.Fatalf("got %v", err)
	}
	l.set("page", "{% if x %}yes{% endif %}")
	r.Invalidate("page")
	out, err := r.RenderTemplate("page", map[string]any{"x": true})
	if err != nil || out != "yes" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestMissingTemplate(t *testing.T) {
	r := New(newCountingLoader(map[string]string{}), WithLogger(quietLogger()))
	_, err := r.RenderTemplate("nope", nil)
	if !tmpl.IsNotFound(err) {
		t.Fatalf("got %v", err)
	}
}

func TestIncludeAndStrict(t *testing.T) {
	l := newCountingLoader(map[string]string{
		"page": `{% include "part" with who="you" %}`,
		"part": "hi {{ who }}{{ missing }}",
	})
	r := New(l, WithLogger(quietLogger()))
	out, err := r.RenderTemplate("page", nil)
	if err != nil || out != "hi you" {
		t.Fatalf("got %q, %v", out, err)
	}
	if !slices.Equal(r.Names(), []string{"page", "part"}) {
		t.Fatalf("names = %v", r.Names())
	}

	strict := New(l, WithLogger(quietLogger()), WithStrict(true))
	_, err = strict.RenderTemplate("page", nil)
	if !errors.Is(err, tmpl.UndefinedVariable) {
		t.Fatalf("expected UndefinedVariable, got %v", err)
	}
}

func TestInvalidateAllAndClose(t *testing.T) {
	l := newCountingLoader(map[string]string{"a": "a", "b": "b"})
	r := New(l, WithLogger(quietLogger()))
	r.Get("a")
	r.Get("b")
	r.InvalidateAll()
	if st := r.Stats(); st.Entries != 0 || st.Sources != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if _, err := r.Get("a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := r.RenderTemplate("a", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := r.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: %v", err)
	}
	if removed := r.Invalidate("a"); removed != nil {
		t.Fatalf("removed = %v", removed)
	}
}
