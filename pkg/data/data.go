// Package data loads render variables from fixture files. YAML and JSON
// documents keep the key order of their mappings; Starlark scripts export
// their public globals.
package data

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cobalto/cobalto/pkg/starlark"
	"github.com/cobalto/cobalto/pkg/tmpl"
)

// Extensions lists the fixture file types Load understands.
var Extensions = []string{".yaml", ".yml", ".json", ".star", ".sky"}

// Load reads the fixture at path. vars are visible to Starlark scripts and
// are overlaid by what the file defines.
func Load(path string, vars map[string]tmpl.Value, logger *slog.Logger) (map[string]tmpl.Value, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".star", ".sky":
		return starlark.LoadFile(path, vars, logger)
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("loading %s: unsupported fixture type", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	doc, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	out := make(map[string]tmpl.Value, len(vars)+doc.Len())
	for k, v := range vars {
		out[k] = v
	}
	for _, k := range doc.Keys() {
		out[k], _ = doc.Get(k)
	}
	return out, nil
}

// LoadAll loads paths in order, each seeing the variables of the ones
// before it.
func LoadAll(paths []string, logger *slog.Logger) (map[string]tmpl.Value, error) {
	vars := map[string]tmpl.Value{}
	for _, p := range paths {
		next, err := Load(p, vars, logger)
		if err != nil {
			return nil, err
		}
		vars = next
	}
	return vars, nil
}

// Parse decodes a YAML or JSON document whose top level is a mapping. An
// empty document yields an empty map.
func Parse(b []byte) (*tmpl.MapValue, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return tmpl.NewMap(), nil
		}
		return nil, err
	}
	v, err := convert(&root)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case *tmpl.MapValue:
		return m, nil
	case tmpl.NullValue:
		return tmpl.NewMap(), nil
	}
	return nil, fmt.Errorf("top level must be a mapping, got %s", v.Kind())
}

func convert(n *yaml.Node) (tmpl.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return tmpl.Null, nil
		}
		return convert(n.Content[0])
	case yaml.AliasNode:
		return convert(n.Alias)
	case yaml.SequenceNode:
		out := make(tmpl.ListValue, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := convert(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := tmpl.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
				if err := merge(out, v); err != nil {
					return nil, err
				}
				continue
			}
			val, err := convert(v)
			if err != nil {
				return nil, err
			}
			out.Set(k.Value, val)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}

// merge applies a "<<" key; explicit keys of the mapping win.
func merge(out *tmpl.MapValue, n *yaml.Node) error {
	src, err := convert(n)
	if err != nil {
		return err
	}
	var maps []*tmpl.MapValue
	switch v := src.(type) {
	case *tmpl.MapValue:
		maps = append(maps, v)
	case tmpl.ListValue:
		for _, item := range v {
			m, ok := item.(*tmpl.MapValue)
			if !ok {
				return fmt.Errorf("line %d: merge of a non-mapping", n.Line)
			}
			maps = append(maps, m)
		}
	default:
		return fmt.Errorf("line %d: merge of a non-mapping", n.Line)
	}
	for _, m := range maps {
		for _, k := range m.Keys() {
			if _, ok := out.Get(k); ok {
				continue
			}
			v, _ := m.Get(k)
			out.Set(k, v)
		}
	}
	return nil
}

func scalar(n *yaml.Node) (tmpl.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return tmpl.Null, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return tmpl.BoolValue(b), nil
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			// Integers beyond float64 syntax such as 0o17 decode as int.
			i, ierr := strconv.ParseInt(n.Value, 0, 64)
			if ierr != nil {
				return nil, err
			}
			f = float64(i)
		}
		return tmpl.NumberValue(f), nil
	}
	return tmpl.StringValue(n.Value), nil
}
