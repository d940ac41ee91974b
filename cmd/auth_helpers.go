package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"happa/internal/cli"
	"happa/internal/config"
	"happa/internal/provider"
	"happa/internal/provider/legacy"
	"happa/internal/provider/mapi"
	"happa/internal/session"
	"happa/internal/tokenstore"
	"happa/pkg/logging"
)

// passwordEnvVar lets scripts supply the legacy password non-interactively.
const passwordEnvVar = "HAPPA_PASSWORD"

var errLoginCancelled = errors.New("login cancelled")

// authEnv is everything an auth subcommand needs for one provider.
type authEnv struct {
	cfg      config.HappaConfig
	provider provider.Provider
	mapi     *mapi.Provider
	legacy   *legacy.Provider
	store    *tokenstore.Store
	session  *session.Controller
}

// loadAuthConfig reads config.yaml and applies the command line overrides.
func loadAuthConfig() (config.HappaConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.HappaConfig{}, err
	}

	if authProvider != "" {
		cfg.Provider = authProvider
	}
	if authIssuer != "" {
		cfg.MAPI.Issuer = authIssuer
	}
	if authEndpoint != "" {
		cfg.Legacy.Endpoint = authEndpoint
	}

	if err := cfg.Validate(configPath); err != nil {
		return config.HappaConfig{}, err
	}
	if err := cfg.RequireEndpoints(); err != nil {
		return config.HappaConfig{}, err
	}
	return cfg, nil
}

// storeKey names the persisted session after the installation it belongs to,
// so --issuer or --endpoint never resumes another installation's session.
func storeKey(cfg config.HappaConfig) string {
	if cfg.Provider == config.ProviderMAPI {
		return tokenstore.KeyFor(cfg.Provider, cfg.MAPI.Issuer)
	}
	return tokenstore.KeyFor(cfg.Provider, cfg.Legacy.Endpoint)
}

// newAuthEnv builds the provider, store and session controller for the
// configured provider and resumes any persisted session.
func newAuthEnv(cmd *cobra.Command) (*authEnv, error) {
	cfg, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	env := &authEnv{cfg: cfg}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	switch cfg.Provider {
	case config.ProviderMAPI:
		p, err := mapi.New(mapi.Config{MAPIConfig: cfg.MAPI, HTTPClient: httpClient})
		if err != nil {
			return nil, err
		}
		env.mapi, env.provider = p, p
	case config.ProviderLegacy:
		p, err := legacy.New(legacy.Config{
			Endpoint:   cfg.Legacy.Endpoint,
			TokenTTL:   cfg.Legacy.TokenTTL,
			Prompt:     promptCredentials(cmd),
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		env.legacy, env.provider = p, p
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	env.store, err = tokenstore.New(tokenstore.Config{
		StorageDir: cfg.TokenStorageDir,
		Key:        storeKey(cfg),
		FileMode:   true,
	})
	if err != nil {
		return nil, err
	}

	env.session, err = session.New(session.Config{
		Provider:       env.provider,
		Store:          env.store,
		RenewalSkew:    cfg.RenewalSkew,
		RetryInterval:  cfg.RenewalRetryInterval,
		RetryMax:       cfg.RenewalRetryMax,
		NetworkTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}

	// A failed resume leaves the controller Expired or LoggedOut; commands
	// report that through requireSession.
	if err := env.session.Start(cmd.Context()); err != nil {
		logging.Debug("CLI", "Resuming %s session: %v", env.provider.Name(), err)
	}

	return env, nil
}

func (e *authEnv) Close() {
	e.session.Close()
}

// requireSession returns a guidance error unless the session is usable.
func (e *authEnv) requireSession() error {
	snap := e.session.Snapshot()
	switch {
	case snap.State.Authenticated():
		return nil
	case snap.State == session.Expired:
		return &cli.AuthExpiredError{Provider: snap.Provider, Reason: snap.LastError}
	default:
		return &cli.AuthRequiredError{Provider: snap.Provider}
	}
}

// promptCredentials asks for the legacy email and password. The email comes
// from --email when set and the password from $HAPPA_PASSWORD when set.
func promptCredentials(cmd *cobra.Command) legacy.PromptFunc {
	return func(ctx context.Context) (legacy.Credentials, error) {
		creds := legacy.Credentials{
			Email:    loginEmail,
			Password: os.Getenv(passwordEnvVar),
		}
		if creds.Email != "" && creds.Password != "" {
			return creds, nil
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "Email: ",
			InterruptPrompt: "^C",
			Stdin:           io.NopCloser(cmd.InOrStdin()),
			Stdout:          cmd.OutOrStdout(),
			Stderr:          cmd.ErrOrStderr(),
		})
		if err != nil {
			return legacy.Credentials{}, fmt.Errorf("failed to open prompt: %w", err)
		}
		defer rl.Close()

		if creds.Email == "" {
			line, err := rl.Readline()
			if err != nil {
				return legacy.Credentials{}, promptError(err)
			}
			creds.Email = strings.TrimSpace(line)
		}
		if creds.Password == "" {
			pw, err := rl.ReadPassword("Password: ")
			if err != nil {
				return legacy.Credentials{}, promptError(err)
			}
			creds.Password = string(pw)
		}

		if creds.Email == "" || creds.Password == "" {
			return legacy.Credentials{}, errors.New("email and password are required")
		}
		return creds, ctx.Err()
	}
}

func promptError(err error) error {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return errLoginCancelled
	}
	return err
}
