package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/pkg/auth"
)

var (
	impersonateUser   string
	impersonateGroups []string
	impersonateClear  bool
)

var authImpersonateCmd = &cobra.Command{
	Use:   "impersonate",
	Short: "Act as another user on the Management API",
	Long: `Store a user (and optionally groups) to impersonate on Management API
requests. Impersonation requires the corresponding RBAC permissions and
is removed on logout.

Examples:
  happa auth impersonate --user jane@example.com --group customer:admins
  happa auth impersonate --clear`,
	RunE: runAuthImpersonate,
}

func init() {
	authImpersonateCmd.Flags().StringVar(&impersonateUser, "user", "", "User to impersonate")
	authImpersonateCmd.Flags().StringSliceVar(&impersonateGroups, "group", nil, "Group to impersonate (repeatable)")
	authImpersonateCmd.Flags().BoolVar(&impersonateClear, "clear", false, "Stop impersonating")
}

func runAuthImpersonate(cmd *cobra.Command, args []string) error {
	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.mapi == nil {
		return errors.New("impersonation is only supported by the mapi provider")
	}

	if impersonateClear {
		if err := env.store.ClearImpersonation(); err != nil {
			return err
		}
		authPrint(cmd, "%s Impersonation cleared\n", cli.Check())
		return nil
	}

	if impersonateUser == "" {
		return errors.New("--user is required unless --clear is set")
	}
	if err := env.requireSession(); err != nil {
		return err
	}

	imp := &auth.Impersonation{User: impersonateUser, Groups: impersonateGroups}
	if err := env.store.SaveImpersonation(imp); err != nil {
		return err
	}

	msg := "Impersonating " + imp.User
	if len(imp.Groups) > 0 {
		msg += " with groups " + strings.Join(imp.Groups, ", ")
	}
	authPrint(cmd, "%s %s\n", cli.Check(), msg)
	return nil
}
