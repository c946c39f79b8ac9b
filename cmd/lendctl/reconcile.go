package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/app"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/service"
)

func newReconcileCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between item state and the loan ledger",
		Long: `Compare every loaned item with the open loan records and repair any
disagreement. Safe to run repeatedly; a clean ledger produces no changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cli.cfg, cli.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Reconciliation.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if cli.output == "json" {
				return printJSON(cmd.OutOrStdout(), report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func printReport(w io.Writer, report *service.ReconcileReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "checked\t%d\n", report.Checked)
	fmt.Fprintf(tw, "orphans closed\t%d\n", report.OrphansClosed)
	fmt.Fprintf(tw, "missing opened\t%d\n", report.MissingOpened)
	fmt.Fprintf(tw, "holder mismatches\t%d\n", report.HolderMismatches)
	fmt.Fprintf(tw, "errors\t%d\n", report.Errors)
	fmt.Fprintf(tw, "duration\t%s\n", report.FinishedAt.Sub(report.StartedAt))
	return tw.Flush()
}
