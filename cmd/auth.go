package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	authProvider string
	authIssuer   string
	authEndpoint string
	authQuiet    bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage your Giant Swarm session",
	Long: `Log in and out of a Giant Swarm installation and inspect the current session.

The provider is chosen by the "provider" key in config.yaml and can be
overridden per command with --provider:

  mapi    Management API, OpenID Connect via Dex (default)
  legacy  platform API, email and password

Examples:
  happa auth login
  happa auth login --provider legacy --endpoint https://api.g8s.example.io
  happa auth status
  happa auth whoami
  happa auth logout`,
}

// authPrint writes to stdout unless --quiet is set.
func authPrint(cmd *cobra.Command, format string, a ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, a...)
	}
}

// authPrintln writes a line to stdout unless --quiet is set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !authQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)

	authCmd.PersistentFlags().StringVar(&authProvider, "provider", "", "Identity provider: mapi or legacy (default from config.yaml)")
	authCmd.PersistentFlags().StringVar(&authIssuer, "issuer", "", "Dex issuer URL for the mapi provider")
	authCmd.PersistentFlags().StringVar(&authEndpoint, "endpoint", "", "Platform API URL for the legacy provider")
	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)
	authCmd.AddCommand(authWatchCmd)
	authCmd.AddCommand(authImpersonateCmd)
}
