// Package config reads cobalto settings files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cobalto/cobalto/pkg/data"
	"github.com/cobalto/cobalto/pkg/validator"
)

type TemplateSettings struct {
	Dir        string   `yaml:"dir"`
	Debug      bool     `yaml:"debug"`
	Strict     bool     `yaml:"strict"`
	LiveReload bool     `yaml:"live_reload"`
	Extensions []string `yaml:"extensions"`
	// RemoteURL serves templates over HTTP instead of from Dir.
	RemoteURL string `yaml:"remote_url,omitempty"`
	CacheDir  string `yaml:"cache_dir,omitempty"`
}

func (t TemplateSettings) Validate() error {
	if t.RemoteURL == "" {
		if err := validator.NotEmpty(t.Dir, "template.dir"); err != nil {
			return err
		}
	}
	if t.LiveReload && t.RemoteURL != "" {
		return fmt.Errorf("template.live_reload needs a local template.dir, not template.remote_url")
	}
	return validator.All(
		validator.HTTPURL(t.RemoteURL, "template.remote_url"),
		validator.Map(t.Extensions, validator.HasPrefix("."), "template.extensions"),
		validator.NoDuplicates(t.Extensions, "template.extensions"),
	)
}

// Fixture is the path of a render-variable file loaded by render and serve
// before any --data flags.
type Fixture string

func (f Fixture) Validate() error {
	return validator.All(
		validator.NotEmpty(string(f), "data file"),
		validator.MatchesAllowed(strings.ToLower(filepath.Ext(string(f))), data.Extensions, "data file "+string(f)+" extension"),
	)
}

type Settings struct {
	Debug     bool             `yaml:"debug"`
	LogFormat string           `yaml:"log_format"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Data      []Fixture        `yaml:"data,omitempty"`
	Template  TemplateSettings `yaml:"template"`
}

// LogFormats are the accepted values of log_format.
var LogFormats = []string{"text", "json"}

func Default() Settings {
	return Settings{
		LogFormat: "text",
		Host:      "127.0.0.1",
		Port:      8000,
		Template: TemplateSettings{
			Dir:        "templates",
			LiveReload: true,
			Extensions: []string{".html"},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	cfg := Default()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decoding config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (s Settings) Validate() error {
	return validator.All(
		validator.NotEmpty(s.Host, "host"),
		validator.NoTemplateSyntax(s.Host, "host"),
		validator.InRange(s.Port, 1, 65535, "port"),
		validator.MatchesAllowed(s.LogFormat, LogFormats, "log_format"),
		validator.Each(s.Data),
		s.Template.Validate(),
	)
}

// Addr is the listen address of the dev server.
func (s Settings) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// DataFiles returns the configured fixtures followed by extra.
func (s Settings) DataFiles(extra []string) []string {
	files := make([]string, 0, len(s.Data)+len(extra))
	for _, f := range s.Data {
		files = append(files, string(f))
	}
	return append(files, extra...)
}

// LogLevel is Debug when either debug switch is on.
func (s Settings) LogLevel() slog.Level {
	if s.Debug || s.Template.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
