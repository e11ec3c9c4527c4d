package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
	"stockwatch/internal/pipeline"
)

var tickTimeout time.Duration

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Runs one scrape, reconcile, registry refresh and dispatch pass, then exits.",
	Long: "Runs one pipeline pass. Without a Telegram token the registry refresh " +
		"and notifications are skipped; products are still scraped and reconciled.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), tickTimeout)
		defer cancel()

		a, err := app.New(ctx, cfgPath, app.Options{})
		if err != nil {
			return err
		}
		defer a.Stop(context.Background())

		rep, err := a.Tick(ctx)
		printReport(cmd, rep)
		return err
	},
}

func init() {
	tickCmd.Flags().DurationVar(&tickTimeout, "timeout", 10*time.Minute, "upper bound for the whole pass")
}

func printReport(cmd *cobra.Command, rep pipeline.Report) {
	t := newTable(cmd.OutOrStdout())
	t.SetTitle("tick " + rep.RunID)
	t.AppendHeader(table.Row{"Stage", "Result"})
	t.AppendRow(table.Row{"scrape", fmt.Sprintf("pages=%d products=%d complete=%s",
		rep.Pages, rep.Scraped, yesNo(rep.Complete))})
	t.AppendRow(table.Row{"reconcile", fmt.Sprintf("inserted=%d changed=%d removed=%d failed=%d removal_skipped=%s",
		rep.Reconcile.Inserted, rep.Reconcile.Changed, rep.Reconcile.Removed, rep.Reconcile.Failed,
		yesNo(rep.Reconcile.RemovalSkipped))})
	if rep.RegistrySkipped {
		t.AppendRow(table.Row{"registry", "skipped"})
	} else {
		t.AppendRow(table.Row{"registry", fmt.Sprintf("upserted=%d deleted=%d no_candidates=%d failed=%d",
			rep.Registry.Upserted, rep.Registry.Deleted, rep.Registry.Skipped, rep.Registry.Failed)})
	}
	if rep.DispatchSkipped {
		t.AppendRow(table.Row{"dispatch", "skipped"})
	} else {
		d := rep.Dispatch
		t.AppendRow(table.Row{"dispatch", fmt.Sprintf("selected=%d notified=%d deferred=%d send_failures=%d text_only=%d",
			d.Selected, d.Notified, d.Deferred, d.Failures, d.TextOnly)})
	}
	t.AppendFooter(table.Row{"took", rep.Duration.Round(time.Millisecond)})
	t.Render()
}
