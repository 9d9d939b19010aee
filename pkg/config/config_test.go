package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cobalto.yaml")
	text := `
debug: true
port: 9000
log_format: json
data: [site.yaml, extra.star]
template:
  dir: site
  strict: true
  extensions: [".html", ".txt"]
`
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Settings{
		Debug:     true,
		LogFormat: "json",
		Host:      "127.0.0.1",
		Port:      9000,
		Data:      []Fixture{"site.yaml", "extra.star"},
		Template: TemplateSettings{
			Dir:        "site",
			Strict:     true,
			LiveReload: true,
			Extensions: []string{".html", ".txt"},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}
	if cfg.Addr() != "127.0.0.1:9000" || cfg.LogLevel() != slog.LevelDebug {
		t.Fatalf("addr %s level %v", cfg.Addr(), cfg.LogLevel())
	}
	if diff := cmp.Diff([]string{"site.yaml", "extra.star", "cli.json"}, cfg.DataFiles([]string{"cli.json"})); diff != "" {
		t.Fatalf("data files (-want +got):\n%s", diff)
	}
}

func TestLoadMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"port: 0\n", "port must be between"},
		{"template:\n  extensions: [html]\n", "template.extensions[0]"},
		{"template:\n  extensions: [.html, .html]\n", "duplicate"},
		{"template:\n  remote_url: ftp://x\n  live_reload: false\n", "template.remote_url"},
		{"template:\n  remote_url: http://x/t\n", "live_reload"},
		{"bogus: 1\n", "decoding config file"},
		{"log_format: xml\n", "log_format must be one of"},
		{"data: [ok.yaml, notes.txt]\n", "item 1: data file notes.txt extension"},
	}
	dir := t.TempDir()
	for i, tc := range cases {
		path := filepath.Join(dir, "c.yaml")
		if err := os.WriteFile(path, []byte(tc.text), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("case %d: got %v, want error containing %q", i, err, tc.want)
		}
	}
}
