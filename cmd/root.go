package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/config"
	"happa/pkg/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command for the happa application.
var rootCmd = &cobra.Command{
	Use:   "happa",
	Short: "Log in to Giant Swarm and keep your session fresh",
	Long: `happa manages your session against a Giant Swarm installation, either
through the Management API (OIDC via Dex) or the legacy platform API.

Sessions are stored per provider under ~/.config/happa/tokens and renewed
silently before they expire.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code describing the
// failure class: 2 when authentication is required, 3 when it failed.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "happa version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	format := logging.Format(logFormat)
	if format != logging.FormatText && format != logging.FormatJSON {
		return fmt.Errorf("unknown log format %q (expected text or json)", logFormat)
	}

	logging.Init(level, format, cmd.ErrOrStderr())
	return nil
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatText), "Log format: text or json")
}
