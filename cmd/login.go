package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nikshitha/leadgen/auth"
	"github.com/spf13/cobra"
)

var (
	loginMethod string
	loginLogout bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to LinkedIn and save the session cookies",
	Long: `Opens a browser on the LinkedIn login page. With --method manual (the
default) you log in yourself within the configured timeout; with
--method automatic the credentials from LINKEDIN_EMAIL and
LINKEDIN_PASSWORD are typed in. When both are set and --method is not
given, the login is automatic. The session cookies are saved so later
runs start logged in. --logout forgets the saved session instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		if loginLogout {
			st, err := app.auth.Logout(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}

		if err := interactiveLogin(ctx, app, resolveLoginMethod(cmd), cmd.ErrOrStderr()); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), app.auth.Status(ctx))
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginMethod, "method", auth.MethodManual, "login method: manual or automatic")
	loginCmd.Flags().BoolVar(&loginLogout, "logout", false, "close the session and clear saved cookies")
	rootCmd.AddCommand(loginCmd)
}

func resolveLoginMethod(cmd *cobra.Command) string {
	if !cmd.Flags().Changed("method") && cfg.HasCredentials() {
		return auth.MethodAutomatic
	}
	return loginMethod
}

// interactiveLogin logs the browser session in, waiting for the user when
// the login is manual
func interactiveLogin(ctx context.Context, app *Application, method string, out io.Writer) error {
	st, err := app.auth.Login(ctx, method, "", "")
	if err != nil {
		return err
	}
	if st.LoggedIn {
		app.logger.Info(st.Message)
		return nil
	}

	fmt.Fprintf(out, "Browser opened for manual login. Please login within %d seconds.\n", app.config.LinkedIn.ManualLoginTimeout)
	st, err = app.auth.WaitForLogin(ctx)
	if err != nil {
		return err
	}
	app.logger.Info(st.Message)
	return nil
}
