// Package registry is the process-wide store of compiled templates. It
// compiles each template at most once per invalidation epoch, shares results
// between concurrent callers and drops entries when their sources change.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

// ErrClosed is returned by a registry after Close.
var ErrClosed = errors.New("registry: closed")

// Template is a parsed, pre-inheritance template source.
type Template struct {
	Name     string
	Source   tmpl.Source
	Doc      *tmpl.Document
	ParsedAt time.Time
}

// Entry is a cached compilation result.
type Entry struct {
	Template   *Template
	Resolved   *tmpl.Resolved
	CompiledAt time.Time
	// Deps are the ancestors the entry was resolved against. Invalidating
	// any of them evicts the entry.
	Deps []string
}

// Stats counts registry activity since creation.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Compiles      uint64
	Parses        uint64
	Invalidations uint64
	Entries       int
	Sources       int
}

type Option func(*Registry)

// WithLogger sets the logger used for compile and invalidation events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithStrict makes undefined variables fail rendering.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.renderer.Evaluator.Strict = strict }
}

// Registry maps template identifiers to compiled entries. It is created at
// server start, fed invalidations by a change-notification source and torn
// down with Close. All methods are safe for concurrent use.
type Registry struct {
	loader   tmpl.Loader
	logger   *slog.Logger
	renderer *tmpl.Renderer
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Entry
	sources map[string]*Template
	// epoch increases on every invalidation; stale records the epoch at which
	// each identifier was last invalidated.
	epoch    uint64
	stale    map[string]uint64
	allStale uint64
	closed   bool

	hits, misses, compiles, parses, invalidations atomic.Uint64
}

func New(loader tmpl.Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:   loader,
		logger:   slog.Default(),
		entries:  map[string]*Entry{},
		sources:  map[string]*Template{},
		stale:    map[string]uint64{},
		renderer: tmpl.NewRenderer(nil),
	}
	r.renderer.Includer = tmpl.IncluderFunc(r.resolve)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the compiled entry for name, compiling it on a miss.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	e, epoch, closed := r.entries[name], r.epoch, r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if e != nil {
		r.hits.Add(1)
		return e, nil
	}
	r.misses.Add(1)
	v, err, _ := r.group.Do(flightKey("entry", name, epoch), func() (any, error) {
		return r.compile(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func flightKey(kind, name string, epoch uint64) string {
	return kind + ":" + name + "@" + strconv.FormatUint(epoch, 10)
}

// compile parses and resolves name outside the lock and stores the result
// unless the template or one of its ancestors was invalidated meanwhile.
func (r *Registry) compile(name string) (*Entry, error) {
	r.mu.RLock()
	if e := r.entries[name]; e != nil {
		r.mu.RUnlock()
		return e, nil
	}
	start := r.epoch
	r.mu.RUnlock()

	began := time.Now()
	var leaf *Template
	res, err := tmpl.Resolve(name, func(n string) (*tmpl.Document, error) {
		t, err := r.source(n, start)
		if err != nil {
			return nil, err
		}
		if n == name {
			leaf = t
		}
		return t.Doc, nil
	})
	if err != nil {
		r.logger.Debug("template compile failed", "template", name, "error", err)
		return nil, err
	}
	e := &Entry{Template: leaf, Resolved: res, CompiledAt: time.Now(), Deps: res.Deps}
	r.compiles.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.staleSince(start, append([]string{name}, e.Deps...)...) {
		r.logger.Debug("compiled template went stale, not caching", "template", name)
		return e, nil
	}
	r.entries[name] = e
	r.logger.Debug("compiled template", "template", name, "deps", e.Deps, "took", time.Since(began))
	return e, nil
}

// staleSince reports whether any of names was invalidated after epoch.
// Callers hold r.mu.
func (r *Registry) staleSince(epoch uint64, names ...string) bool {
	if r.allStale > epoch {
		return true
	}
	for _, n := range names {
		if r.stale[n] > epoch {
			return true
		}
	}
	return false
}

// source returns the parsed template for name, loading it on a miss. Parsed
// sources are shared by every entry that extends them.
func (r *Registry) source(name string, epoch uint64) (*Template, error) {
	r.mu.RLock()
	t := r.sources[name]
	r.mu.RUnlock()
	if t != nil {
		return t, nil
	}
	v, err, _ := r.group.Do(flightKey("source", name, epoch), func() (any, error) {
		src, err := r.loader.Load(name)
		if err != nil {
			return nil, err
		}
		doc, err := tmpl.ParseString(name, src.Text)
		if err != nil {
			return nil, err
		}
		r.parses.Add(1)
		t := &Template{Name: name, Source: src, Doc: doc, ParsedAt: time.Now()}
		r.mu.Lock()
		if !r.closed && !r.staleSince(epoch, name) {
			r.sources[name] = t
		}
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// resolve adapts Get for includes.
func (r *Registry) resolve(name string) (*tmpl.Resolved, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return e.Resolved, nil
}

// Invalidate evicts name and every entry that depends on it, and returns the
// evicted entry names in sorted order.
func (r *Registry) Invalidate(name string) []string {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.epoch++
	r.stale[name] = r.epoch
	delete(r.sources, name)
	var removed []string
	for n, e := range r.entries {
		if n == name || slices.Contains(e.Deps, name) {
			delete(r.entries, n)
			removed = append(removed, n)
		}
	}
	r.mu.Unlock()

	r.invalidations.Add(1)
	slices.Sort(removed)
	r.logger.Debug("invalidated template", "template", name, "evicted", removed)
	return removed
}

// InvalidateAll drops every entry and parsed source.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.epoch++
	r.allStale = r.epoch
	clear(r.entries)
	clear(r.sources)
	r.invalidations.Add(1)
}

// Close releases all cached state. Later calls to Get and the render methods
// return ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	clear(r.entries)
	clear(r.sources)
	clear(r.stale)
	return nil
}

// Names lists the identifiers with a cached entry.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	entries, sources := len(r.entries), len(r.sources)
	r.mu.RUnlock()
	return Stats{
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Compiles:      r.compiles.Load(),
		Parses:        r.parses.Load(),
		Invalidations: r.invalidations.Load(),
		Entries:       entries,
		Sources:       sources,
	}
}

// Render renders the template name in ctx.
func (r *Registry) Render(name string, ctx *tmpl.Context) (string, error) {
	e, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return r.renderer.Render(e.Resolved, ctx)
}

// RenderTemplate is the render entry point used by request handlers.
func (r *Registry) RenderTemplate(name string, data map[string]any) (string, error) {
	out, err := r.Render(name, tmpl.NewContextFromAny(data))
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return out, nil
}
