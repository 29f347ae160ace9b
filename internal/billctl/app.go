// Package billctl is a terminal client for the billing API. It signs in with
// the same identity provider as the web app and keeps the session in a YAML
// file between invocations.
package billctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"billing/internal/billing"
	"billing/internal/identity"
)

// Options configures an App.
type Options struct {
	APIURL      string
	Timeout     time.Duration
	Provider    identity.Provider
	SessionPath string
	Out         io.Writer
	// Confirm asks before destructive commands run without --yes. Defaults
	// to an interactive prompt.
	Confirm func(question string) (bool, error)
	Now     func() time.Time
}

// App is the billctl command tree.
type App struct {
	rootCmd  *cobra.Command
	opts     Options
	provider identity.Provider
	sessions *SessionFile
	console  *Console
}

func New(opts Options) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Confirm == nil {
		opts.Confirm = promptConfirm
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	app := &App{
		opts:     opts,
		provider: opts.Provider,
		console:  NewConsole(opts.Out),
	}

	rootCmd := &cobra.Command{
		Use:           "billctl",
		Short:         "Manage billing records from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
	}
	rootCmd.SetOut(opts.Out)
	rootCmd.SetErr(opts.Out)
	rootCmd.PersistentFlags().StringVar(&app.opts.APIURL, "api-url", opts.APIURL, "Billing API base URL")
	rootCmd.PersistentFlags().StringVar(&app.opts.SessionPath, "session-file", opts.SessionPath, "Session file (default $XDG_CONFIG_HOME/billctl/session.yaml)")

	rootCmd.AddCommand(
		app.authCommand(loginAuth),
		app.authCommand(signupAuth),
		app.logoutCommand(),
		app.whoamiCommand(),
		app.billsCommand(),
		app.statsCommand(),
		app.chartCommand(),
		app.adminCommand(),
		app.deleteAccountCommand(),
	)

	app.rootCmd = rootCmd
	return app
}

// Execute runs the command line in args (os.Args[1:] when nil).
func (app *App) Execute(ctx context.Context, args []string) error {
	if args != nil {
		app.rootCmd.SetArgs(args)
	}
	return app.rootCmd.ExecuteContext(ctx)
}

func (app *App) init() error {
	if app.opts.SessionPath == "" {
		path, err := DefaultSessionPath()
		if err != nil {
			return err
		}
		app.opts.SessionPath = path
	}
	app.sessions = NewSessionFile(app.opts.SessionPath)
	if app.opts.APIURL == "" {
		return errors.New("billing API URL is not set, use --api-url or BILLING_API_URL")
	}
	return nil
}

// anonymousClient calls the API with a fixed token, as during login.
func (app *App) anonymousClient(token string) *billing.Client {
	return billing.NewClient(app.opts.APIURL, billing.StaticToken(token),
		billing.WithTimeout(app.opts.Timeout))
}

// client calls the API as the saved session's user.
func (app *App) client() (*billing.Client, *fileTokens, error) {
	sess, err := app.sessions.Load()
	if err != nil {
		return nil, nil, err
	}
	tokens := &fileTokens{file: app.sessions, provider: app.provider, now: app.opts.Now, sess: sess}
	return billing.NewClient(app.opts.APIURL, tokens, billing.WithTimeout(app.opts.Timeout)), tokens, nil
}

// confirm returns true when the user agreed or passed --yes.
func (app *App) confirm(cmd *cobra.Command, question string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	return app.opts.Confirm(question)
}

// apiError turns API failures into messages a terminal user can act on.
func apiError(action string, err error) error {
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return err
	case errors.Is(err, billing.ErrUnauthorized), errors.Is(err, identity.ErrInvalidToken):
		return fmt.Errorf("%s: session expired, run 'billctl login' again: %w", action, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: the billing service did not answer in time", action)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}
