package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

func TestParse(t *testing.T) {
	doc := `
site: Docs
zeta: 1
alpha: 2.5
flags: [true, null, "x"]
base: &base
  color: red
  size: 1
theme:
  <<: *base
  size: 2
`
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	keys := m.Keys()
	want := []string{"site", "zeta", "alpha", "flags", "base", "theme"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}

	out, err := tmpl.TemplateString(
		"{{ site }} {{ zeta }} {{ alpha }} {{ flags|length }} {% for k, v in theme %}{{ k }}={{ v }};{% endfor %}",
	).Render(nil, map[string]any{
		"site": get(m, "site"), "zeta": get(m, "zeta"), "alpha": get(m, "alpha"),
		"flags": get(m, "flags"), "theme": get(m, "theme"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Docs 1 2.5 3 color=red;size=2;" {
		t.Fatalf("got %q", out)
	}
}

func get(m *tmpl.MapValue, k string) tmpl.Value {
	v, _ := m.Get(k)
	return v
}

func TestParseJSONAndEmpty(t *testing.T) {
	m, err := Parse([]byte(`{"b": {"y": 1, "x": 2}, "a": [1, 2]}`))
	if err != nil {
		t.Fatal(err)
	}
	if keys := m.Keys(); keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("unexpected order: %v", m.Keys())
	}
	if keys := get(m, "b").(*tmpl.MapValue).Keys(); keys[0] != "y" || keys[1] != "x" {
		t.Fatalf("nested keys = %v", keys)
	}

	empty, err := Parse(nil)
	if err != nil || empty.Len() != 0 {
		t.Fatalf("got %v, %v", empty, err)
	}
	if _, err := Parse([]byte("- a\n- b\n")); err == nil {
		t.Fatal("expected an error for a top-level list")
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	write := func(name, text string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	yml := write("site.yaml", "site: docs\nusers:\n  - name: Ada\n  - name: Lin\n")
	star := write("extra.star", `count = len(users)
greeting = "hi " + site
`)

	vars, err := LoadAll([]string{yml, star}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vars["count"].String() != "2" || vars["greeting"].String() != "hi docs" {
		t.Fatalf("vars = %v", vars)
	}
	if _, ok := vars["users"].(tmpl.ListValue); !ok {
		t.Fatalf("users = %T", vars["users"])
	}

	if _, err := Load(write("x.toml", ""), nil, nil); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}
