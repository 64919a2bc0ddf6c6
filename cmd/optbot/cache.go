package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	redisstore "optbot/internal/store/redis"
)

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the instrument cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every account's cached instruments",
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := loadAccounts(app.Config.CredentialsFile)
			if err != nil {
				return err
			}
			store, err := redisstore.New(redisstore.Config{Addr: app.Config.RedisAddr, Password: app.Config.RedisPassword, DB: app.Config.RedisDB})
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			total := 0
			for _, a := range accounts {
				n, err := store.ClearNamespace(ctx, a.Namespace())
				if err != nil {
					return err
				}
				printf(cmd, "%-16s %d keys removed\n", a.Username, n)
				total += n
			}
			printf(cmd, "%d keys removed\n", total)
			return nil
		},
	})
	return cmd
}
