package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"optbot/internal/metrics"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Long: `Resolve the option ladder on the resolve schedule and evaluate the entry
condition on the evaluation schedule. /metrics and /healthz are served on
METRICS_ADDR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(func(ctx context.Context, rt *runtime) error {
				var db *sql.DB
				if rt.journal != nil {
					db = rt.journal.DB()
				}
				rt.health.StartLivenessChecker(ctx, rt.store.Client(), db, 15*time.Second)

				srv := metrics.NewServer(app.Config.MetricsAddr, rt.health)
				srv.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Stop(shutdownCtx)
				}()

				app.Logger.Info("optbot starting",
					"accounts", len(rt.accounts),
					"underlying", app.Config.Underlying,
					"dry_run", app.Config.DryRun,
					"order_style", app.Config.OrderStyle,
				)
				return rt.service.Run(ctx)
			})
		},
	}
}
