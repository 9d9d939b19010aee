package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cobalto/cobalto/pkg/registry"
	"github.com/cobalto/cobalto/pkg/tmpl"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	kindStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var checkCmd = cobra.Command{
	Use:   "check [template ...]",
	Short: "Parse and resolve templates, reporting every error",
	Long: "Parse and resolve the named templates, or every template in the template " +
		"directory when none are named. Rendering is not attempted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		reg := newRegistry(cfg, logger)
		defer reg.Close()

		names := args
		if len(names) == 0 {
			if cfg.Template.RemoteURL != "" {
				return fmt.Errorf("check needs template names when templates are remote")
			}
			names, err = tmpl.DirLoader{Root: cfg.Template.Dir}.Names(cfg.Template.Extensions)
			if err != nil {
				return err
			}
		}
		failed := checkTemplates(cmd.OutOrStdout(), reg, names)
		if failed > 0 {
			return fmt.Errorf("%d of %d templates failed", failed, len(names))
		}
		return nil
	},
}

// checkTemplates compiles each name and prints one line per template. It
// returns the number of failures.
func checkTemplates(w io.Writer, reg *registry.Registry, names []string) int {
	failed := 0
	for _, name := range names {
		_, err := reg.Get(name)
		if err == nil {
			fmt.Fprintf(w, "%s %s\n", okStyle.Render("ok  "), name)
			continue
		}
		failed++
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("FAIL"), name)
		var te *tmpl.Error
		if errors.As(err, &te) {
			where := te.Template
			if te.Pos.IsValid() {
				where += ":" + te.Pos.String()
			}
			fmt.Fprintf(w, "     %s %s %s\n", hintStyle.Render(where), kindStyle.Render(te.Kind.String()), te.Msg)
			continue
		}
		fmt.Fprintf(w, "     %s\n", err)
	}
	return failed
}
