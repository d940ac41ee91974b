package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"happa/internal/apiclient"
	"happa/internal/cli"
	"happa/internal/session"
)

// identity is what whoami prints.
type identity struct {
	Provider      string   `json:"provider"`
	Username      string   `json:"username"`
	Groups        []string `json:"groups,omitempty"`
	Admin         bool     `json:"admin,omitempty"`
	Impersonating bool     `json:"impersonating,omitempty"`
	Source        string   `json:"source"`
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Ask the API who you are logged in as",
	Long: `Ask the API server who the current session authenticates as.

For the mapi provider this performs a Kubernetes SelfSubjectReview against
mapi.apiEndpoint, honouring any impersonation set with "happa auth
impersonate". Without an apiEndpoint the identity from the ID token is shown.
For the legacy provider the platform API user endpoint is queried.

A session the API rejects is renewed once; if that fails you are asked to
log in again.`,
	RunE: runAuthWhoami,
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	env, err := newAuthEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireSession(); err != nil {
		return err
	}

	id, err := env.whoami(cmd.Context())
	if err != nil {
		if env.session.State() == session.Expired {
			return &cli.AuthExpiredError{Provider: env.provider.Name(), Reason: err}
		}
		return err
	}

	out, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to render identity: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func (e *authEnv) whoami(ctx context.Context) (*identity, error) {
	name := e.provider.Name()

	switch {
	case e.legacy != nil:
		client := apiclient.NewHTTPClient(e.session, e.cfg.HTTPTimeout)
		user, err := e.legacy.FetchUser(ctx, client)
		if err != nil {
			return nil, err
		}
		return &identity{Provider: name, Username: user.Email, Source: e.cfg.Legacy.Endpoint}, nil

	case e.cfg.MAPI.APIEndpoint != "":
		imp := e.store.LoadImpersonation()
		restConfig := apiclient.RESTConfig(e.cfg.MAPI.APIEndpoint, e.cfg.MAPI.CAFile, e.session, imp)
		info, err := apiclient.WhoAmI(ctx, restConfig)
		if err != nil {
			return nil, err
		}
		return &identity{
			Provider:      name,
			Username:      info.Username,
			Groups:        info.Groups,
			Impersonating: imp != nil,
			Source:        e.cfg.MAPI.APIEndpoint,
		}, nil

	default:
		snap := e.session.Snapshot()
		return &identity{
			Provider: name,
			Username: snap.User.Email,
			Groups:   snap.User.Groups,
			Admin:    snap.User.IsAdmin,
			Source:   "id token",
		}, nil
	}
}
