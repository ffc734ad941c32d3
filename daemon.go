package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Xveyn/baluhost-sync/internal/config"
	"github.com/Xveyn/baluhost-sync/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync service",
		Long: "Watches connectivity and local changes, runs periodic reconciliation " +
			"passes, and drains the operation queue whenever the NAS becomes reachable.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close() //nolint:errcheck // shutdown path

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app.monitor.Start(ctx)
			defer app.monitor.Stop()

			scheduler := sync.NewScheduler(
				app.service,
				app.monitor,
				config.Duration(cfg.Sync.Interval),
				config.Duration(cfg.Sync.Debounce),
				logger,
			)

			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer scheduler.Stop()

			// An initial pass so a freshly started daemon converges without
			// waiting for the first tick.
			if app.monitor.CheckNow(ctx) {
				if _, err := app.service.TriggerReconcileAll(ctx); err != nil {
					logger.Warn("initial pass ended early", slog.Any("error", err))
				}
			}

			logger.Info("daemon running")

			<-ctx.Done()

			logger.Info("daemon shutting down")

			return nil
		},
	}
}
