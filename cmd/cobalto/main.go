package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cobalto/cobalto/pkg/config"
	"github.com/cobalto/cobalto/pkg/data"
	"github.com/cobalto/cobalto/pkg/netsource"
	"github.com/cobalto/cobalto/pkg/registry"
	"github.com/cobalto/cobalto/pkg/tmpl"
)

var (
	configPath  string
	verbose     bool
	dataFiles   []string
	templateDir string
)

var rootCmd = cobra.Command{
	Use:           "cobalto",
	Short:         "Render and serve Django-style templates",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadSettings reads the config file and applies command line overrides.
func loadSettings() (config.Settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if templateDir != "" {
		cfg.Template.Dir = templateDir
		cfg.Template.RemoteURL = ""
	}
	if verbose {
		cfg.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg config.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newLoader(cfg config.Settings) tmpl.Loader {
	if cfg.Template.RemoteURL != "" {
		return netsource.New(cfg.Template.RemoteURL, cfg.Template.CacheDir)
	}
	return tmpl.DirLoader{Root: cfg.Template.Dir}
}

func newRegistry(cfg config.Settings, logger *slog.Logger) *registry.Registry {
	return registry.New(newLoader(cfg),
		registry.WithLogger(logger),
		registry.WithStrict(cfg.Template.Strict),
	)
}

func loadData(cfg config.Settings, logger *slog.Logger) (map[string]tmpl.Value, error) {
	vars, err := data.LoadAll(cfg.DataFiles(dataFiles), logger)
	if err != nil {
		return nil, fmt.Errorf("loading data: %w", err)
	}
	return vars, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cobalto.yaml", "Path to settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&templateDir, "templates", "t", "", "Template directory, overrides template.dir")

	renderCmd.Flags().StringArrayVarP(&dataFiles, "data", "d", nil, "YAML, JSON or Starlark file with render variables (repeatable)")
	renderCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout")
	renderCmd.Flags().Bool("pretty", false, "Print the resolved template tree instead of rendering")
	rootCmd.AddCommand(&renderCmd)

	rootCmd.AddCommand(&checkCmd)

	serveCmd.Flags().StringArrayVarP(&dataFiles, "data", "d", nil, "YAML, JSON or Starlark file with render variables (repeatable)")
	serveCmd.Flags().String("addr", "", "Listen address, overrides host and port")
	rootCmd.AddCommand(&serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
