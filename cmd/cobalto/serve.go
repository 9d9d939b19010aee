package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cobalto/cobalto/pkg/livereload"
	"github.com/cobalto/cobalto/pkg/registry"
	"github.com/cobalto/cobalto/pkg/tmpl"
	"github.com/cobalto/cobalto/pkg/watch"
)

var serveCmd = cobra.Command{
	Use:   "serve",
	Short: "Serve rendered templates with live reload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		reg := newRegistry(cfg, logger)
		defer reg.Close()

		vars, err := loadData(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var hub *livereload.Hub
		if cfg.Template.LiveReload {
			hub = livereload.NewHub(logger)
			w, err := watch.New(cfg.Template.Dir,
				watch.InvalidateSink(reg, logger, func(events []watch.Event) {
					names := make([]string, len(events))
					for i, ev := range events {
						names[i] = ev.Name
					}
					n := hub.Broadcast(names)
					logger.Debug("sent reload", "clients", n)
				}),
				watch.WithExtensions(cfg.Template.Extensions...),
				watch.WithLogger(logger),
			)
			if err != nil {
				return fmt.Errorf("watching %s: %w", cfg.Template.Dir, err)
			}
			defer w.Close()
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("watcher stopped", "error", err)
				}
			}()
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Addr()
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           newServer(reg, vars, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("serving templates", "addr", "http://"+addr, "dir", cfg.Template.Dir, "live_reload", hub != nil)

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// newServer maps request paths onto template identifiers. A path ending in
// "/" renders its index.html. When hub is non-nil it is mounted at
// livereload.Path and HTML responses get the reload client injected.
func newServer(reg *registry.Registry, vars map[string]tmpl.Value, hub *livereload.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	script := ""
	if hub != nil {
		mux.Handle(livereload.Path, hub)
		script = livereload.Script(livereload.Path)
	}
	mux.HandleFunc("/_cobalto/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Stats())
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, "index.html")
		}

		ctx := tmpl.NewContext(vars)
		ctx.Set("request", tmpl.MapOf("path", r.URL.Path, "query", r.URL.RawQuery))
		out, err := reg.Render(name, ctx)
		if err != nil {
			status := http.StatusInternalServerError
			if missing(err, name) {
				status = http.StatusNotFound
			}
			logger.Error("render failed", "template", name, "status", status, "error", err)
			http.Error(w, err.Error(), status)
			return
		}

		ctype := mime.TypeByExtension(path.Ext(name))
		if ctype == "" {
			ctype = "text/html; charset=utf-8"
		}
		body := []byte(out)
		if script != "" && strings.HasPrefix(ctype, "text/html") {
			body = livereload.Inject(body, script)
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	})
	return mux
}

// missing reports whether err is the loader miss for name itself rather than
// for something it includes or extends.
func missing(err error, name string) bool {
	var nf tmpl.ErrTemplateNotFound
	if !errors.As(err, &nf) || nf.Name != name {
		return false
	}
	var te *tmpl.Error
	return !errors.As(err, &te)
}
