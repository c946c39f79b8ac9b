// Command lendctl runs maintenance tasks against the lending database.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/config"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliContext is loaded once per invocation by the root command.
type cliContext struct {
	cfg    *config.Config
	logger *zap.Logger
	output string
}

func newRootCmd() *cobra.Command {
	cli := &cliContext{}

	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "Operate the asset lending database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cli.output != "json" && cli.output != "table" {
				return fmt.Errorf("unsupported output %q (want json or table)", cli.output)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			l, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cli.cfg, cli.logger = cfg, l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cli.logger != nil {
				_ = cli.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&cli.output, "output", "o", "table", "Output format: table or json")

	root.AddCommand(newMigrateCmd(cli))
	root.AddCommand(newReconcileCmd(cli))
	root.AddCommand(newMaintenanceCmd(cli))

	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
