package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
	"stockwatch/internal/config"
	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

var statusPending bool

var statusCmd = &cobra.Command{
	Use:   "status [--pending]",
	Short: "Prints the stored inventory and the selected notification channels.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := app.OpenStore(ctx, cfg, logx.NewConsole(cfg.Logging.Level))
		if err != nil {
			return err
		}
		defer store.Close()

		var products []inventory.ProductRecord
		if statusPending {
			products, err = store.ListUnnotified(ctx, inventory.NotifyWorthyStatuses()...)
		} else {
			products, err = store.ListProducts(ctx)
		}
		if err != nil {
			return err
		}
		channels, err := store.ListChannels(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		pt := newTable(out)
		pt.SetTitle("products")
		pt.AppendHeader(table.Row{"Name", "Status", "Notified", "Last updated"})
		for _, p := range products {
			pt.AppendRow(table.Row{p.Name, string(p.Status), yesNo(p.Notified), shortTime(p.LastUpdated)})
		}
		pt.AppendFooter(table.Row{len(products), "", "", ""})
		pt.Render()

		ct := newTable(out)
		ct.SetTitle("channels")
		ct.AppendHeader(table.Row{"Group", "Group id", "Channel", "Channel id", "Updated"})
		for _, c := range channels {
			ct.AppendRow(table.Row{c.GroupName, c.GroupID, c.ChannelName, c.ChannelID, shortTime(c.UpdatedAt)})
		}
		ct.Render()
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusPending, "pending", false, "only list records waiting to be announced")
}
