package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
	logx "stockwatch/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the bot: Telegram polling, scheduled ticks and config hot reload.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(ctx, cfgPath, app.Options{RequireTelegram: true})
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background())
			return err
		}
		log := a.Logger()
		notify(log, daemon.SdNotifyReady)

		select {
		case <-ctx.Done():
		case <-a.Done():
		}
		notify(log, daemon.SdNotifyStopping)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		err = a.Err()
		_ = a.Stop(stopCtx)
		return err
	},
}

// notify reports state to systemd when running under a Type=notify unit.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
