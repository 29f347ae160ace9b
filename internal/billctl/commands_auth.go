package billctl

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"billing/internal/billing"
	"billing/internal/identity"
)

type authKind struct {
	use      string
	short    string
	identity func(p identity.Provider, ctx context.Context, email, password string) (identity.Token, error)
	backend  func(c *billing.Client, ctx context.Context, creds billing.Credentials) (map[string]any, error)
	done     string
}

var (
	loginAuth = authKind{
		use:      "login",
		short:    "Sign in and save the session",
		identity: identity.Provider.SignIn,
		backend:  (*billing.Client).Login,
		done:     "Logged in as %s",
	}
	signupAuth = authKind{
		use:      "signup",
		short:    "Create an account and save the session",
		identity: identity.Provider.SignUp,
		backend:  (*billing.Client).SignUp,
		done:     "Account created for %s",
	}
)

func (app *App) authCommand(kind authKind) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   kind.use,
		Short: kind.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if app.provider == nil {
				return errors.New("no identity provider configured")
			}
			if password == "" {
				p, err := promptPassword()
				if err != nil {
					return err
				}
				password = p
			}
			email = strings.TrimSpace(email)
			if err := identity.CheckCredentials(email, password); err != nil {
				return errors.New(identity.Message(err))
			}

			tok, err := kind.identity(app.provider, ctx, email, password)
			if err != nil {
				return errors.New(identity.Message(err))
			}

			creds := billing.Credentials{Email: email, Password: password}
			if _, err := kind.backend(app.anonymousClient(tok.IDToken), ctx, creds); err != nil {
				app.console.Warning("Billing service did not acknowledge %s: %v", kind.use, err)
			}

			if err := app.sessions.Save(storedFrom(tok)); err != nil {
				return err
			}
			app.console.Success(kind.done, tok.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (app *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client()
			if errors.Is(err, ErrNotLoggedIn) {
				app.console.Info("Not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := client.Logout(cmd.Context()); err != nil {
				app.console.Warning("Billing service logout failed: %v", err)
			}
			if err := app.sessions.Remove(); err != nil {
				return err
			}
			app.console.Success("Logged out")
			return nil
		},
	}
}

func (app *App) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, tokens, err := app.client()
			if err != nil {
				return err
			}
			email := tokens.sess.Email
			status, err := client.CheckAuth(cmd.Context())
			switch {
			case err != nil:
				app.console.Warning("Could not check the session with the billing service: %v", err)
			case status.Authenticated && status.User.Email != "":
				email = status.User.Email
			}
			if email == "" {
				email = "User"
			}
			app.console.Info("Logged in as %s", BoldCyan(email))
			return nil
		},
	}
}

func (app *App) adminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "Print every user's data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := app.client()
			if err != nil {
				return err
			}
			raw, err := client.AdminData(cmd.Context())
			if err != nil {
				return apiError("Failed to fetch all users data", err)
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				app.console.Println(string(raw))
				return nil
			}
			pretty, _ := json.MarshalIndent(v, "", "  ")
			app.console.Println(string(pretty))
			return nil
		},
	}
}

func (app *App) deleteAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete the account with all its bills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, tokens, err := app.client()
			if err != nil {
				return err
			}
			ok, err := app.confirm(cmd, "This will permanently delete your account, including all your data and bills. Do you want to continue?")
			if err != nil || !ok {
				return err
			}

			res, err := client.DeleteAccount(ctx)
			if err != nil {
				return apiError("Error deleting account", err)
			}
			if !res.Success {
				if res.Error != "" {
					return errors.New(res.Error)
				}
				return errors.New("Failed to delete account.")
			}

			if app.provider != nil {
				if idToken, err := tokens.Token(ctx); err == nil {
					if err := app.provider.DeleteAccount(ctx, idToken); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
						app.console.Warning("Identity account not deleted: %v", err)
					}
				}
			}
			if err := app.sessions.Remove(); err != nil {
				return err
			}
			app.console.Success("Account deleted")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func promptPassword() (string, error) {
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
}

func promptConfirm(question string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.Show(question)
}
