package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"optbot/config"
	"optbot/internal/broker"
	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

func newAccountsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage trading accounts",
	}
	cmd.AddCommand(newAccountsAddCmd(app))
	cmd.AddCommand(newAccountsListCmd(app))
	cmd.AddCommand(newAccountsValidateCmd(app))
	return cmd
}

func newAccountsAddCmd(app *App) *cobra.Command {
	var acct model.Account
	var skipLogin bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account after a test login",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateAccounts([]model.Account{acct}); err != nil {
				return err
			}
			if !skipLogin {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := testLogin(ctx, acct); err != nil {
					return fmt.Errorf("login check for %s: %w", acct.Username, err)
				}
			}
			if err := config.SaveAccount(app.Config.CredentialsFile, acct); err != nil {
				return err
			}
			printf(cmd, "added %s to %s\n", acct.Username, app.Config.CredentialsFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&acct.Username, "username", "", "name for the account, also its cache namespace")
	cmd.Flags().StringVar(&acct.ClientID, "client-id", "", "broker client code")
	cmd.Flags().StringVar(&acct.PIN, "pin", "", "login PIN")
	cmd.Flags().StringVar(&acct.APIKey, "api-key", "", "SmartAPI key")
	cmd.Flags().StringVar(&acct.TOTPSecret, "totp", "", "base32 TOTP seed")
	cmd.Flags().BoolVar(&skipLogin, "skip-login", false, "save without a test login")
	for _, f := range []string{"username", "client-id", "pin", "api-key", "totp"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newAccountsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := config.LoadAccounts(app.Config.CredentialsFile)
			if err != nil {
				return err
			}
			if app.JSON {
				type row struct {
					Username string `json:"username"`
					ClientID string `json:"client_id"`
				}
				rows := make([]row, len(accounts))
				for i, a := range accounts {
					rows[i] = row{a.Username, a.ClientID}
				}
				return printJSON(cmd, rows)
			}
			for _, a := range accounts {
				printf(cmd, "%-16s %s\n", a.Username, a.ClientID)
			}
			return nil
		},
	}
}

func newAccountsValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every account's fields and log each one in",
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := loadAccounts(app.Config.CredentialsFile)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			var errs []error
			for _, a := range accounts {
				lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				sess, err := testLogin(lctx, a)
				cancel()
				if err != nil {
					printf(cmd, "%-16s FAILED  %v\n", a.Username, err)
					errs = append(errs, fmt.Errorf("%s: %w", a.Username, err))
					continue
				}
				until := "no expiry claim"
				if !sess.ExpiresAt.IsZero() {
					until = "valid until " + sess.ExpiresAt.Format(time.RFC3339)
				}
				printf(cmd, "%-16s ok      %s\n", a.Username, until)
			}
			return errors.Join(errs...)
		},
	}
}

func testLogin(ctx context.Context, acct model.Account) (broker.Session, error) {
	auth := broker.NewTOTPAuthenticator(smartconnect.New(smartconnect.Config{}))
	return auth.Login(ctx, acct)
}
