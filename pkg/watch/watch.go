// Package watch turns file-system notifications under a template directory
// into debounced (identifier, reason) change events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports that the template Name changed.
type Event struct {
	Name   string
	Reason string
	Path   string
}

// Sink receives a debounced batch of events, sorted by name.
type Sink func(events []Event)

// Invalidator is the part of the template registry a watcher drives.
type Invalidator interface {
	Invalidate(name string) []string
}

// InvalidateSink returns a sink that invalidates every changed template and
// then calls next, if set, with the batch.
func InvalidateSink(inv Invalidator, logger *slog.Logger, next Sink) Sink {
	return func(events []Event) {
		for _, ev := range events {
			evicted := inv.Invalidate(ev.Name)
			logger.Info("template changed", "template", ev.Name, "reason", ev.Reason, "evicted", len(evicted))
		}
		if next != nil {
			next(events)
		}
	}
}

type Option func(*Watcher)

// WithExtensions limits events to files with one of exts, e.g. ".html".
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) { w.exts = exts }
}

// WithDelay sets the debounce window. The default is 100ms.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) { w.delay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root   string
	exts   []string
	delay  time.Duration
	logger *slog.Logger
	sink   Sink
	fsw    *fsnotify.Watcher
}

// New starts watching root and every directory below it.
func New(root string, sink Sink, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	w := &Watcher{root: abs, delay: 100 * time.Millisecond, logger: slog.Default(), sink: sink}
	for _, o := range opts {
		o(w)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to setup watcher: %w", err)
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) Close() error { return w.fsw.Close() }

// Run delivers batches to the sink until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	pending := map[string]Event{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("watching new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			e, ok := w.translate(ev)
			if !ok {
				continue
			}
			pending[e.Name] = e
			debounce.Reset(w.delay)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-debounce.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]Event, 0, len(pending))
			for _, e := range pending {
				batch = append(batch, e)
			}
			clear(pending)
			slices.SortFunc(batch, func(a, b Event) int { return strings.Compare(a.Name, b.Name) })
			w.sink(batch)
		}
	}
}

// translate maps a notification to a template event. Chmod-only events and
// files outside the root or with other extensions are dropped.
func (w *Watcher) translate(ev fsnotify.Event) (Event, bool) {
	var reason string
	switch {
	case ev.Has(fsnotify.Remove):
		reason = "removed"
	case ev.Has(fsnotify.Rename):
		reason = "renamed"
	case ev.Has(fsnotify.Create):
		reason = "created"
	case ev.Has(fsnotify.Write):
		reason = "modified"
	default:
		return Event{}, false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || !filepath.IsLocal(rel) {
		return Event{}, false
	}
	if len(w.exts) > 0 && !slices.Contains(w.exts, strings.ToLower(filepath.Ext(rel))) {
		return Event{}, false
	}
	return Event{Name: filepath.ToSlash(rel), Reason: reason, Path: ev.Name}, true
}
