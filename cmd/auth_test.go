package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"happa/internal/cli"
	"happa/internal/tokenstore"
)

// platformAPI fakes the legacy auth token and user endpoints.
type platformAPI struct {
	*httptest.Server

	mu          sync.Mutex
	deletes     int
	revoked     bool
	authHeaders []string
}

func newPlatformAPI(t *testing.T) *platformAPI {
	t.Helper()
	api := &platformAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v4/auth-tokens/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Email          string `json:"email"`
				PasswordBase64 string `json:"password_base64"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			pw, _ := base64.StdEncoding.DecodeString(body.PasswordBase64)
			if string(pw) != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"auth_token": "gs-token"})
		case http.MethodDelete:
			api.mu.Lock()
			api.deletes++
			api.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/v4/user/", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		revoked := api.revoked
		api.authHeaders = append(api.authHeaders, r.Header.Get("Authorization"))
		api.mu.Unlock()
		if revoked || r.Header.Get("Authorization") != "giantswarm gs-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"email": "dev@example.com"})
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func (a *platformAPI) deleteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deletes
}

func (a *platformAPI) userRequests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.authHeaders...)
}

func (a *platformAPI) revoke() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked = true
}

// writeConfig creates a config directory using the legacy provider against
// endpoint and returns it with the token directory.
func writeConfig(t *testing.T, endpoint string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	tokens := filepath.Join(dir, "tokens")
	data := fmt.Sprintf("provider: legacy\ntokenStorageDir: %s\nlegacy:\n  endpoint: %s\n", tokens, endpoint)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(data), 0o600))
	return dir, tokens
}

func resetFlags() {
	configPath = ""
	logLevel = "warn"
	logFormat = "text"
	authProvider, authIssuer, authEndpoint = "", "", ""
	authQuiet = false
	loginConnector, loginEmail, loginNoBrowser = "", "", false
	logoutAll = false
	impersonateUser, impersonateGroups, impersonateClear = "", nil, false
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// storedRecord loads the legacy session persisted for endpoint.
func storedRecord(t *testing.T, tokens, endpoint string) *tokenstore.Record {
	t.Helper()
	store, err := tokenstore.New(tokenstore.Config{
		StorageDir: tokens,
		Key:        tokenstore.KeyFor("legacy", endpoint),
		FileMode:   true,
	})
	require.NoError(t, err)
	return store.Load()
}

func TestAuthLegacyLifecycle(t *testing.T) {
	api := newPlatformAPI(t)
	dir, tokens := writeConfig(t, api.URL)
	t.Setenv(passwordEnvVar, "hunter2")

	out, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in to legacy as dev@example.com")

	rec := storedRecord(t, tokens, api.URL)
	require.NotNil(t, rec)
	assert.Equal(t, "gs-token", rec.AccessToken)
	assert.Equal(t, "dev@example.com", rec.User.Email)

	out, err = runCLI(t, "auth", "login", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Already logged in")

	out, err = runCLI(t, "auth", "status", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "dev@example.com")
	assert.Contains(t, out, "Logged in")
	assert.Contains(t, out, "never")

	out, err = runCLI(t, "auth", "whoami", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "username: dev@example.com")
	assert.Contains(t, out, "provider: legacy")

	out, err = runCLI(t, "auth", "logout", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out dev@example.com from legacy")
	assert.Nil(t, storedRecord(t, tokens, api.URL))
	assert.Equal(t, 1, api.deleteCount())

	_, err = runCLI(t, "auth", "whoami", "--config-path", dir)
	var required *cli.AuthRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, cli.ExitAuthRequired, cli.ExitCode(err))
}

func TestAuthLogin_WrongPassword(t *testing.T) {
	api := newPlatformAPI(t)
	dir, tokens := writeConfig(t, api.URL)
	t.Setenv(passwordEnvVar, "nope")

	_, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com", "--quiet")
	require.Error(t, err)
	assert.Equal(t, cli.ExitAuthFailed, cli.ExitCode(err))
	assert.Contains(t, err.Error(), "Incorrect email or password.")
	assert.Nil(t, storedRecord(t, tokens, api.URL))
}

func TestAuthWhoami_RejectedTokenExpiresSession(t *testing.T) {
	api := newPlatformAPI(t)
	dir, tokens := writeConfig(t, api.URL)
	t.Setenv(passwordEnvVar, "hunter2")

	_, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com")
	require.NoError(t, err)

	api.revoke()
	_, err = runCLI(t, "auth", "whoami", "--config-path", dir)
	var expired *cli.AuthExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, cli.ExitAuthRequired, cli.ExitCode(err))
	assert.Nil(t, storedRecord(t, tokens, api.URL), "expired session must be cleared")
}

func TestAuthRefresh_LegacyCannotRenew(t *testing.T) {
	api := newPlatformAPI(t)
	dir, tokens := writeConfig(t, api.URL)
	t.Setenv(passwordEnvVar, "hunter2")

	_, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com")
	require.NoError(t, err)

	_, err = runCLI(t, "auth", "refresh", "--config-path", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be renewed")
	assert.NotNil(t, storedRecord(t, tokens, api.URL), "a refused refresh must not end the session")
}

func TestAuthRefresh_NotLoggedIn(t *testing.T) {
	api := newPlatformAPI(t)
	dir, _ := writeConfig(t, api.URL)

	_, err := runCLI(t, "auth", "refresh", "--config-path", dir)
	assert.True(t, errors.Is(err, &cli.AuthRequiredError{}))
}

func TestAuthImpersonate(t *testing.T) {
	api := newPlatformAPI(t)
	dir, _ := writeConfig(t, api.URL)

	_, err := runCLI(t, "auth", "impersonate", "--config-path", dir, "--user", "jane@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only supported by the mapi provider")

	_, err = runCLI(t, "auth", "impersonate", "--config-path", dir,
		"--provider", "mapi", "--issuer", "https://dex.example.io", "--user", "jane@example.com")
	assert.True(t, errors.Is(err, &cli.AuthRequiredError{}), "impersonation needs a session, got %v", err)

	out, err := runCLI(t, "auth", "impersonate", "--config-path", dir,
		"--provider", "mapi", "--issuer", "https://dex.example.io", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Impersonation cleared")
}

func TestAuthStatus_LoggedOutMAPI(t *testing.T) {
	api := newPlatformAPI(t)
	dir, _ := writeConfig(t, api.URL)

	out, err := runCLI(t, "auth", "status", "--config-path", dir, "--provider", "mapi", "--issuer", "https://dex.example.io")
	require.NoError(t, err)
	assert.Contains(t, out, "mapi")
	assert.Contains(t, out, "Not logged in")
	assert.Contains(t, out, "happa auth login --provider mapi")
}

func TestAuthCommands_MissingEndpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("provider: legacy\n"), 0o600))

	_, err := runCLI(t, "auth", "status", "--config-path", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--endpoint")
}

func TestAuthLogout_All(t *testing.T) {
	api := newPlatformAPI(t)
	dir, tokens := writeConfig(t, api.URL)
	t.Setenv(passwordEnvVar, "hunter2")

	_, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com")
	require.NoError(t, err)

	out, err := runCLI(t, "auth", "logout", "--config-path", dir, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed all stored sessions")
	assert.Nil(t, storedRecord(t, tokens, api.URL))
	assert.Zero(t, api.deleteCount(), "--all does not contact providers")
}

func TestAuthSessions_ArePerInstallation(t *testing.T) {
	first := newPlatformAPI(t)
	second := newPlatformAPI(t)
	dir, tokens := writeConfig(t, first.URL)
	t.Setenv(passwordEnvVar, "hunter2")

	_, err := runCLI(t, "auth", "login", "--config-path", dir, "--email", "dev@example.com")
	require.NoError(t, err)
	require.NotNil(t, storedRecord(t, tokens, first.URL))

	out, err := runCLI(t, "auth", "status", "--config-path", dir, "--endpoint", second.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
	assert.NotContains(t, out, "dev@example.com")

	_, err = runCLI(t, "auth", "whoami", "--config-path", dir, "--endpoint", second.URL)
	assert.True(t, errors.Is(err, &cli.AuthRequiredError{}), "got %v", err)
	assert.Empty(t, second.userRequests(), "the first installation's token must never reach the second")
	assert.Nil(t, storedRecord(t, tokens, second.URL))

	// The same installation spelled with a trailing slash keeps its session.
	out, err = runCLI(t, "auth", "status", "--config-path", dir, "--endpoint", first.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "dev@example.com")

	_, err = runCLI(t, "auth", "logout", "--config-path", dir, "--all")
	require.NoError(t, err)
	assert.Nil(t, storedRecord(t, tokens, first.URL))
}
