package tmpl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"
)

// Source is the raw text of a template and a token that changes whenever the
// text does.
type Source struct {
	Text  string
	Token string
}

// Loader supplies template sources by identifier. Loaders return
// ErrTemplateNotFound for unknown identifiers.
type Loader interface {
	Load(name string) (Source, error)
}

// ContentToken hashes template text into a change token.
func ContentToken(text string) string {
	return fmt.Sprintf("xxh3:%016x", xxh3.HashString(text))
}

// MemoryLoader serves templates from a map.
type MemoryLoader map[string]string

func (m MemoryLoader) Load(name string) (Source, error) {
	if s, ok := m[name]; ok {
		return Source{Text: s, Token: ContentToken(s)}, nil
	}
	return Source{}, ErrTemplateNotFound{name}
}

// DirLoader serves templates from a directory. Identifiers are slash separated
// paths relative to Root and may not escape it.
type DirLoader struct {
	Root string
}

func (d DirLoader) Load(name string) (Source, error) {
	rel := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(rel) {
		return Source{}, ErrTemplateNotFound{name}
	}
	b, err := os.ReadFile(filepath.Join(d.Root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return Source{}, ErrTemplateNotFound{name}
		}
		return Source{}, fmt.Errorf("reading template %s: %w", name, err)
	}
	s := string(b)
	return Source{Text: s, Token: ContentToken(s)}, nil
}

// Name converts a file path below Root into a template identifier.
func (d DirLoader) Name(file string) (string, bool) {
	rel, err := filepath.Rel(d.Root, file)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Names lists the identifiers of all files below Root whose extension is in
// exts, sorted. An empty exts matches every file.
func (d DirLoader) Names(exts []string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.Root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if p != d.Root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name, ok := d.Name(p)
		if !ok {
			return nil
		}
		if len(exts) > 0 && !slices.Contains(exts, path.Ext(name)) {
			return nil
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing templates in %s: %w", d.Root, err)
	}
	slices.Sort(names)
	return names, nil
}
