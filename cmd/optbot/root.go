package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"optbot/config"
)

// App holds what every command shares.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	JSON   bool
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	app := &App{Config: cfg, Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "optbot",
		Short: "Intraday NIFTY options bot",
		Long: `optbot watches one-minute NIFTY bars, raises CE/PE entry signals from
smoothed ADX, RSI and momentum, and buys the at-the-money option on every
configured Angel One account.

Use 'optbot run' to start the scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.CredentialsFile, "credentials", cfg.CredentialsFile, "accounts file (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "route orders to the paper placer")

	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newResolveCmd(app))
	rootCmd.AddCommand(newExpiriesCmd(app))
	rootCmd.AddCommand(newEvaluateCmd(app))
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newCacheCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))

	return rootCmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

// withRuntime loads the accounts, wires the pipeline and runs fn.
func (app *App) withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	accounts, err := loadAccounts(app.Config.CredentialsFile)
	if err != nil {
		return err
	}
	rt, err := build(app.Config, accounts, app.Logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()
	return fn(ctx, rt)
}
