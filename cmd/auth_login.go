package cmd

import (
	"errors"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/provider/mapi"
	"happa/internal/session"
)

var (
	loginConnector string
	loginEmail     string
	loginNoBrowser bool
)

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a Giant Swarm installation",
	Long: `Log in with the configured identity provider.

For the mapi provider a browser window is opened for the Dex login and the
redirect is received on a local callback port. For the legacy provider you
are asked for your email and password; set HAPPA_PASSWORD to skip the
password prompt.

Examples:
  happa auth login
  happa auth login --connector giantswarm
  happa auth login --provider legacy --email me@example.com`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginConnector, "connector", "", "Dex connector to log in with (mapi)")
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (legacy)")
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the login URL instead of opening a browser (mapi)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	name := env.provider.Name()

	if snap := env.session.Snapshot(); snap.State.Authenticated() {
		authPrint(cmd, "Already logged in to %s as %s\n", name, snap.User.Email)
		return nil
	}

	if env.mapi != nil && loginConnector != "" {
		env.mapi.SetConnector(loginConnector)
	}

	start, err := env.session.Login(ctx)
	if err != nil {
		if errors.Is(err, errLoginCancelled) {
			return err
		}
		return &cli.AuthFailedError{Provider: name, Reason: err}
	}

	if start.Redirect() {
		if loginNoBrowser {
			authPrintln(cmd, "Open this URL in your browser to log in:")
			authPrintln(cmd, "  "+start.AuthURL)
		} else {
			authPrintln(cmd, "Opening browser to log in...")
			if err := mapi.OpenBrowser(start.AuthURL); err != nil {
				authPrint(cmd, "Could not open a browser (%v). Open this URL to log in:\n  %s\n", err, start.AuthURL)
			}
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Writer = cmd.ErrOrStderr()
		s.Suffix = " Waiting for the login to complete..."
		if !authQuiet {
			s.Start()
		}
		responseURL, err := start.Wait(ctx)
		s.Stop()

		if err != nil {
			// Abandon the pending login so the callback listener is released.
			_ = env.session.Logout(ctx)
			return &cli.AuthFailedError{Provider: name, Reason: err}
		}
		if err := env.session.HandleProviderCallback(ctx, responseURL); err != nil {
			return &cli.AuthFailedError{Provider: name, Reason: err}
		}
	}

	snap := env.session.Snapshot()
	if snap.State != session.LoggedIn || snap.User == nil {
		reason := snap.LastError
		if reason == nil {
			reason = errors.New("login did not complete")
		}
		return &cli.AuthFailedError{Provider: name, Reason: reason}
	}
	authPrint(cmd, "%s Logged in to %s as %s\n", cli.Check(), name, snap.User.Email)
	if snap.User.IsAdmin {
		authPrintln(cmd, "  You have admin permissions.")
	}
	return nil
}
