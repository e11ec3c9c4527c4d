package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

var scrapeMaxPages int

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--max-pages N]",
	Short: "Collects the catalog and prints what was found without touching the store.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		log := logx.NewConsole(cfg.Logging.Level)

		src, err := app.NewCatalogSource(cfg, log)
		if err != nil {
			return err
		}
		opt := app.CollectOptions(cfg)
		if scrapeMaxPages > 0 {
			opt.MaxPages = scrapeMaxPages
		}
		snap := catalog.Collect(cmd.Context(), src, opt, log)

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"#", "Name", "Status", "Image"})
		products := snap.Dedup()
		for i, p := range products {
			t.AppendRow(table.Row{i + 1, p.Name, string(inventory.StatusFor(p.InStock)), ellipsis(p.ImageURL, 60)})
		}
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d products", len(products)),
			fmt.Sprintf("pages=%d", snap.Pages), "complete=" + yesNo(snap.Complete)})
		t.Render()
		return nil
	},
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeMaxPages, "max-pages", 0, "override catalog.max_pages")
}
