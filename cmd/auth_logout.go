package cmd

import (
	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/config"
	"happa/internal/tokenstore"
	"happa/pkg/logging"
)

var logoutAll bool

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and revoke the stored session",
	Long: `Log out of the configured provider. The stored session is removed first,
then the provider is asked to revoke it.

With --all the stored sessions of every provider are removed without
contacting the providers.`,
	RunE: runAuthLogout,
}

func init() {
	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove the stored sessions of all providers")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	if logoutAll {
		return logoutAllProviders(cmd)
	}

	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	snap := env.session.Snapshot()
	if err := env.session.Logout(cmd.Context()); err != nil {
		return err
	}
	if err := env.store.ClearImpersonation(); err != nil {
		return err
	}

	if snap.User != nil {
		authPrint(cmd, "%s Logged out %s from %s\n", cli.Check(), snap.User.Email, snap.Provider)
	} else {
		authPrint(cmd, "%s Logged out from %s\n", cli.Check(), snap.Provider)
	}
	return nil
}

func logoutAllProviders(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	removed, err := tokenstore.ClearAll(cfg.TokenStorageDir)
	if err != nil {
		return err
	}
	logging.Debug("CLI", "Removed %d session records", removed)

	authPrint(cmd, "%s Removed all stored sessions\n", cli.Check())
	return nil
}
