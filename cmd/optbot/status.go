package main

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"optbot/internal/execution"
	"optbot/internal/markethours"
	redisstore "optbot/internal/store/redis"
)

func newStatusCmd(app *App) *cobra.Command {
	var (
		limit   int
		orderID string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show market state, the traded expiry and recent orders, or one order's audit record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			status := struct {
				Market string                    `json:"market"`
				Expiry string                    `json:"expiry"`
				Orders []execution.OutcomeRecord `json:"orders"`
			}{Market: markethours.StatusString(time.Now())}

			store, err := redisstore.New(redisstore.Config{Addr: app.Config.RedisAddr, Password: app.Config.RedisPassword, DB: app.Config.RedisDB})
			if err != nil {
				return err
			}
			defer store.Close()
			if orderID != "" {
				return printOrder(ctx, cmd, app, store, orderID)
			}
			status.Expiry, err = store.Expiry(ctx)
			if err != nil && !errors.Is(err, redisstore.ErrNotFound) {
				return err
			}

			journal, err := execution.NewJournal(app.Config.SQLitePath)
			if err != nil {
				return err
			}
			defer journal.Close()
			if status.Orders, err = journal.Recent(ctx, limit); err != nil {
				return err
			}

			if app.JSON {
				return printJSON(cmd, status)
			}
			printf(cmd, "market  %s\n", status.Market)
			if status.Expiry == "" {
				status.Expiry = "(none resolved)"
			}
			printf(cmd, "expiry  %s\n", status.Expiry)
			for _, o := range status.Orders {
				result := "placed " + o.OrderID
				if !o.Success {
					result = o.ErrorKind + ": " + o.Error
				}
				printf(cmd, "%s  %-12s %-4s %-24s %s\n", o.At, o.Account, o.Side, o.Symbol, result)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "recent orders to show")
	cmd.Flags().StringVar(&orderID, "order", "", "show the order:{id} audit record of an accepted order")
	return cmd
}

func printOrder(ctx context.Context, cmd *cobra.Command, app *App, store *redisstore.Store, id string) error {
	rec, err := store.Order(ctx, id)
	if err != nil {
		return err
	}
	if app.JSON {
		return printJSON(cmd, rec)
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printf(cmd, "%-10s %s\n", k, rec[k])
	}
	return nil
}
