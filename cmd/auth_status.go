package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"happa/internal/cli"
)

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Long: `Show the state of the session for the configured provider: who is logged
in, when the tokens expire and when they will be renewed.

Loading the status renews the session if it is already due.`,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	snap := env.session.Snapshot()
	cli.RenderSnapshot(cmd.OutOrStdout(), time.Now(), snap)

	if imp := env.store.LoadImpersonation(); imp != nil && snap.State.Authenticated() {
		line := "Impersonating " + imp.User
		if len(imp.Groups) > 0 {
			line += " (groups: " + strings.Join(imp.Groups, ", ") + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	if !snap.State.Authenticated() {
		fmt.Fprintf(cmd.OutOrStdout(), "\nTo log in, run:\n  happa auth login --provider %s\n", snap.Provider)
	}
	return nil
}
