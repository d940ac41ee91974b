package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/session"
)

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the session now",
	Long: `Renew the session immediately instead of waiting for it to come due.
Only providers that issue refresh tokens (mapi) support this.`,
	RunE: runAuthRefresh,
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireSession(); err != nil {
		return err
	}

	name := env.provider.Name()
	if !env.session.Renewable() {
		return fmt.Errorf("the %s session cannot be renewed; run happa auth login --provider %s once it expires", name, name)
	}
	if err := env.session.Renew(cmd.Context()); err != nil {
		if env.session.State() == session.Expired || errors.Is(err, session.ErrSessionExpired) {
			return &cli.AuthExpiredError{Provider: name, Reason: err}
		}
		return errors.New(cli.UserMessage(err))
	}

	snap := env.session.Snapshot()
	authPrint(cmd, "%s Session renewed, expires %s\n", cli.Check(), cli.FormatExpiry(time.Now(), snap.ExpiresAt))
	return nil
}
