package main

import (
	"fmt"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/cobalto/cobalto/pkg/tmpl"
)

var renderCmd = cobra.Command{
	Use:   "render [template]",
	Short: "Render a template to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		reg := newRegistry(cfg, logger)
		defer reg.Close()

		name := args[0]
		if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
			e, err := reg.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tmpl.PrettyResolved(e.Resolved))
			return nil
		}

		vars, err := loadData(cfg, logger)
		if err != nil {
			return err
		}
		out, err := reg.Render(name, tmpl.NewContext(vars))
		if err != nil {
			return fmt.Errorf("rendering %s: %w", name, err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" || output == "-" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		}
		if err := atomic.WriteFile(output, strings.NewReader(out)); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		logger.Info("rendered template", "template", name, "output", output, "bytes", len(out))
		return nil
	},
}

