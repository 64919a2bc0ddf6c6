package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newEvaluateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the entry condition once and dispatch any signal",
		Long: `Fetch the latest bars, evaluate the entry condition now and, on a signal,
buy the at-the-money option on every account. Combine with --dry-run to
see what would be placed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(func(ctx context.Context, rt *runtime) error {
				report, err := rt.service.EvaluateOnce(ctx, time.Now())
				if err != nil {
					return err
				}
				if app.JSON {
					return printJSON(cmd, report)
				}

				d := report.Decision
				printf(cmd, "bar %s  O %.2f C %.2f  SADX %.2f  RSI %.2f  Mom %.2f\n",
					d.Latest.Bar.TS.Format("15:04"), d.Latest.Bar.Open, d.Latest.Bar.Close,
					d.Latest.SADX, d.Latest.RSI, d.Latest.Mom)
				printf(cmd, "CE %t  PE %t\n", d.CE, d.PE)
				for _, s := range report.Skipped {
					printf(cmd, "%s already dispatched for %s\n", s.Right, s.BarTS.Format("15:04"))
				}
				for _, disp := range report.Dispatches {
					printf(cmd, "%s:\n", disp.Key)
					for _, o := range disp.Outcomes {
						if o.Success {
							printf(cmd, "  %-12s placed %s (%d attempts)\n", o.Account, o.OrderID, o.Attempts)
							continue
						}
						printf(cmd, "  %-12s %s: %s\n", o.Account, o.ErrorKind, o.Error)
					}
				}
				return nil
			})
		},
	}
}
