package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"optbot/internal/instrument"
	"optbot/internal/markethours"
)

func newResolveCmd(app *App) *cobra.Command {
	var expiry string
	var index int

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the strike ladder into every account's cache",
		Long: `Fetch the scrip master, pick the strikes around the at-the-money price and
store token, symbol and lot size for each under every account namespace.

Without flags the nearest listed expiry is used. --expiry takes a label such
as 20MAY25; --index picks from 'optbot expiries'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(func(ctx context.Context, rt *runtime) error {
				var (
					resolved time.Time
					err      error
				)
				switch {
				case expiry != "":
					t, perr := instrument.ParseExpiryLabel(expiry)
					if perr != nil {
						return perr
					}
					resolved, err = rt.service.ResolveFor(ctx, t)
				case index >= 0:
					list, lerr := listExpiries(ctx, app)
					if lerr != nil {
						return lerr
					}
					if index >= len(list) {
						return fmt.Errorf("expiry index %d out of range (%d listed)", index, len(list))
					}
					resolved, err = rt.service.ResolveFor(ctx, list[index])
				default:
					resolved, err = rt.service.ResolveInstruments(ctx)
				}
				if err != nil {
					return err
				}
				printf(cmd, "resolved %s for %d accounts\n", instrument.ExpiryLabel(resolved), len(rt.accounts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry label, e.g. 20MAY25")
	cmd.Flags().IntVar(&index, "index", -1, "index into the expiry listing")
	cmd.MarkFlagsMutuallyExclusive("expiry", "index")
	return cmd
}

func newExpiriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expiries",
		Short: "List upcoming option expiries of the underlying",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			list, err := listExpiries(ctx, app)
			if err != nil {
				return err
			}
			if app.JSON {
				labels := make([]string, len(list))
				for i, t := range list {
					labels[i] = instrument.ExpiryLabel(t)
				}
				return printJSON(cmd, labels)
			}
			for i, t := range list {
				printf(cmd, "%3d  %s  %s\n", i, instrument.ExpiryLabel(t), t.Format("Mon 02 Jan 2006"))
			}
			return nil
		},
	}
}

func listExpiries(ctx context.Context, app *App) ([]time.Time, error) {
	master, err := instrument.FetchMaster(ctx, nil, app.Config.ScripMasterURL)
	if err != nil {
		return nil, err
	}
	list := instrument.Expiries(master, app.Config.Underlying, time.Now().In(markethours.IST))
	if len(list) == 0 {
		return nil, fmt.Errorf("no %s option expiries listed", app.Config.Underlying)
	}
	return list, nil
}
