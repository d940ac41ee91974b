package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/session"
)

var authWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session renewed and print every change",
	Long: `Stay in the foreground, renew the session whenever it comes due and print
each state change. Logins and logouts made by other happa processes are
picked up from the token store.

Stop with Ctrl+C.`,
	RunE: runAuthWatch,
}

func runAuthWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	printSnapshot := func(snap session.Snapshot) {
		line := fmt.Sprintf("%s  %s", time.Now().Format(time.TimeOnly), cli.StateLabel(snap.State))
		if snap.User != nil && snap.State.Authenticated() {
			line += "  " + snap.User.Email
			line += "  expires " + cli.FormatExpiry(time.Now(), snap.ExpiresAt)
		}
		if snap.LastError != nil {
			line += "  (" + cli.Truncate(cli.UserMessage(snap.LastError), cli.MaxMessageLen) + ")"
		}
		fmt.Fprintln(out, line)
	}

	printSnapshot(env.session.Snapshot())
	unsubscribe := env.session.Subscribe(printSnapshot)
	defer unsubscribe()

	if err := env.store.Watch(ctx, env.session.Resync); err != nil {
		return fmt.Errorf("failed to watch token store: %w", err)
	}

	<-ctx.Done()
	return nil
}
