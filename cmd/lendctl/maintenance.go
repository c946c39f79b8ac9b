package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/app"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

func newMaintenanceCmd(cli *cliContext) *cobra.Command {
	var (
		organizationID string
		refresh        bool
	)

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "List items with overdue or upcoming maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cli.cfg, cli.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh {
				if err := a.Maintenance.Flush(cmd.Context()); err != nil {
					return fmt.Errorf("flush maintenance cache: %w", err)
				}
			}

			views, err := a.Maintenance.Attention(cmd.Context(), models.Actor{
				ID:             "lendctl",
				Role:           models.RoleSuperAdmin,
				OrganizationID: organizationID,
			})
			if err != nil {
				return err
			}
			if cli.output == "json" {
				return printJSON(cmd.OutOrStdout(), views)
			}
			return printAttention(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&organizationID, "org", "", "Organization ID (required)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Discard cached evaluations first")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func printAttention(w io.Writer, views []models.ItemView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCAN CODE\tNAME\tSTATUS\tCATEGORY\tLEVEL\tDEADLINE")
	for _, view := range views {
		categories := make([]string, 0, len(view.Maintenance.PerCategory))
		for category := range view.Maintenance.PerCategory {
			categories = append(categories, string(category))
		}
		sort.Strings(categories)
		for _, name := range categories {
			category := models.MaintenanceCategory(name)
			level := view.Maintenance.PerCategory[category]
			if level == models.MaintenanceOK {
				continue
			}
			deadline := "-"
			if d := view.Maintenance.Deadlines[category]; d != nil {
				deadline = d.Format("2006-01-02")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", view.ScanCode, view.Name, view.Status, category, level, deadline)
		}
	}
	return tw.Flush()
}
