package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cobalto/cobalto/pkg/registry"
	"github.com/cobalto/cobalto/pkg/tmpl"
)

func TestTranslate(t *testing.T) {
	root := t.TempDir()
	w := &Watcher{root: root, exts: []string{".html"}}
	cases := []struct {
		ev     fsnotify.Event
		name   string
		reason string
		ok     bool
	}{
		{fsnotify.Event{Name: filepath.Join(root, "a.html"), Op: fsnotify.Write}, "a.html", "modified", true},
		{fsnotify.Event{Name: filepath.Join(root, "sub", "b.HTML"), Op: fsnotify.Create}, "sub/b.HTML", "created", true},
		{fsnotify.Event{Name: filepath.Join(root, "a.html"), Op: fsnotify.Remove}, "a.html", "removed", true},
		{fsnotify.Event{Name: filepath.Join(root, "a.html"), Op: fsnotify.Rename}, "a.html", "renamed", true},
		{fsnotify.Event{Name: filepath.Join(root, "a.html"), Op: fsnotify.Chmod}, "", "", false},
		{fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write}, "", "", false},
		{fsnotify.Event{Name: filepath.Join(filepath.Dir(root), "x.html"), Op: fsnotify.Write}, "", "", false},
	}
	for _, tc := range cases {
		e, ok := w.translate(tc.ev)
		if ok != tc.ok || e.Name != tc.name || e.Reason != tc.reason {
			t.Errorf("%v: got %+v %v", tc.ev, e, ok)
		}
	}
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherInvalidatesRegistry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.html"), "<{% block b %}one{% endblock %}>")
	writeFile(t, filepath.Join(dir, "pages", "home.html"), `{% extends "base.html" %}{% block b %}home {{ block.super }}{% endblock %}`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(tmpl.DirLoader{Root: dir}, registry.WithLogger(logger))
	out, err := reg.RenderTemplate("pages/home.html", nil)
	if err != nil || out != "<home one>" {
		t.Fatalf("got %q, %v", out, err)
	}

	batches := make(chan []Event, 4)
	sink := InvalidateSink(reg, logger, func(events []Event) { batches <- events })
	w, err := New(dir, sink, WithExtensions(".html"), WithDelay(20*time.Millisecond), WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, filepath.Join(dir, "base.html"), "[{% block b %}two{% endblock %}]")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case batch := <-batches:
			for _, e := range batch {
				if e.Name == "notes.txt" {
					t.Fatalf("unexpected event %+v", e)
				}
			}
			out, err := reg.RenderTemplate("pages/home.html", nil)
			if err != nil {
				t.Fatal(err)
			}
			if out == "[home two]" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
}
