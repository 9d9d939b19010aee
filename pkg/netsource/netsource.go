// Package netsource serves template sources over HTTP with a persistent
// conditional-GET cache. The change token of a source is its ETag, or its
// Last-Modified date, or a hash of its content.
package netsource

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

// Loader fetches templates relative to BaseURL. With a non-empty Dir,
// responses are cached on disk and revalidated with If-None-Match and
// If-Modified-Since; a cached copy is served when the server is unreachable.
type Loader struct {
	BaseURL string
	Dir     string
	Client  *http.Client
	Retries int
}

func New(baseURL, dir string) *Loader {
	return &Loader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Dir:     dir,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Retries: 3,
	}
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	DataFile     string `json:"data_file"`
}

func (m meta) token(body string) string {
	switch {
	case m.ETag != "":
		return "etag:" + m.ETag
	case m.LastModified != "":
		return "modified:" + m.LastModified
	}
	return tmpl.ContentToken(body)
}

func (l *Loader) Load(name string) (tmpl.Source, error) {
	return l.LoadContext(context.Background(), name)
}

// LoadContext fetches name, revalidating any cached copy.
func (l *Loader) LoadContext(ctx context.Context, name string) (tmpl.Source, error) {
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return tmpl.Source{}, tmpl.ErrTemplateNotFound{Name: name}
	}
	u, err := url.JoinPath(l.BaseURL, name)
	if err != nil {
		return tmpl.Source{}, fmt.Errorf("building url for %s: %w", name, err)
	}

	cached, haveCache := l.readCache(u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return tmpl.Source{}, err
	}
	if haveCache {
		if cached.m.ETag != "" {
			req.Header.Set("If-None-Match", cached.m.ETag)
		}
		if cached.m.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.m.LastModified)
		}
	}

	resp, err := l.do(ctx, req)
	if err != nil {
		if haveCache {
			return cached.source(), nil
		}
		return tmpl.Source{}, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && haveCache:
		return cached.source(), nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return tmpl.Source{}, tmpl.ErrTemplateNotFound{Name: name}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if haveCache {
			return cached.source(), nil
		}
		return tmpl.Source{}, fmt.Errorf("fetching %s: HTTP %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tmpl.Source{}, fmt.Errorf("reading %s: %w", u, err)
	}
	m := meta{
		URL:          u,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DataFile:     hash(u) + ".data",
	}
	if err := l.writeCache(m, body); err != nil {
		return tmpl.Source{}, err
	}
	return tmpl.Source{Text: string(body), Token: m.token(string(body))}, nil
}

// do sends req, retrying network errors and 5xx responses with backoff.
func (l *Loader) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < max(l.Retries, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * 100 * time.Millisecond):
			}
		}
		resp, err := l.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

type cacheEntry struct {
	m    meta
	body []byte
}

func (c cacheEntry) source() tmpl.Source {
	return tmpl.Source{Text: string(c.body), Token: c.m.token(string(c.body))}
}

func (l *Loader) readCache(u string) (cacheEntry, bool) {
	if l.Dir == "" {
		return cacheEntry{}, false
	}
	b, err := os.ReadFile(filepath.Join(l.Dir, hash(u)+".json"))
	if err != nil {
		return cacheEntry{}, false
	}
	var m meta
	if err := json.Unmarshal(b, &m); err != nil || m.URL != u || m.DataFile == "" {
		return cacheEntry{}, false
	}
	body, err := os.ReadFile(filepath.Join(l.Dir, m.DataFile))
	if err != nil {
		return cacheEntry{}, false
	}
	return cacheEntry{m: m, body: body}, true
}

// writeCache stores body before its metadata so a crash never leaves
// metadata pointing at a missing payload.
func (l *Loader) writeCache(m meta, body []byte) error {
	if l.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(l.Dir, m.DataFile), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("caching %s: %w", m.URL, err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filepath.Join(l.Dir, hash(m.URL)+".json"), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("caching %s: %w", m.URL, err)
	}
	return nil
}

// Purge removes every cached response.
func (l *Loader) Purge() error {
	if l.Dir == "" {
		return nil
	}
	err := os.RemoveAll(l.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
