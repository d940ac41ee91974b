package legacy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"happa/internal/provider"
	"happa/pkg/auth"
	"happa/pkg/logging"
)

// Name is the provider name and storage key.
const Name = "legacy"

// ErrInvalidCredentials is wrapped when the API rejects the email/password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Credentials are prompted for at login.
type Credentials struct {
	Email    string
	Password string
}

// PromptFunc asks the user for credentials.
type PromptFunc func(ctx context.Context) (Credentials, error)

// Config configures the legacy provider.
type Config struct {
	// Endpoint is the platform API base URL.
	Endpoint string

	// TokenTTL, when non-zero, sets ExpiresAt on issued tokens.
	TokenTTL time.Duration

	// Prompt supplies credentials for StartInteractiveLogin.
	Prompt PromptFunc

	HTTPClient *http.Client

	Now func() time.Time
}

// Provider talks to the platform API's auth token endpoints.
type Provider struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates the provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("legacy: endpoint is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: cfg.HTTPClient,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return Name
}

type createAuthTokenRequest struct {
	Email          string `json:"email"`
	PasswordBase64 string `json:"password_base64"`
}

type createAuthTokenResponse struct {
	AuthToken string `json:"auth_token"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StartInteractiveLogin prompts for credentials and creates an auth token.
// It completes without a redirect.
func (p *Provider) StartInteractiveLogin(ctx context.Context) (*provider.LoginStart, error) {
	if p.cfg.Prompt == nil {
		return nil, errors.New("legacy: no credential prompt configured")
	}
	creds, err := p.cfg.Prompt(ctx)
	if err != nil {
		return nil, err
	}
	return p.Login(ctx, creds)
}

// Login creates an auth token for creds.
func (p *Provider) Login(ctx context.Context, creds Credentials) (*provider.LoginStart, error) {
	const op = "create auth token"

	if creds.Email == "" || creds.Password == "" {
		return nil, provider.NewError(provider.KindInvalidResponse, op, errors.New("email and password are required"))
	}

	body, err := json.Marshal(createAuthTokenRequest{
		Email:          creds.Email,
		PasswordBase64: base64.StdEncoding.EncodeToString([]byte(creds.Password)),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v4/auth-tokens/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, provider.ClassifyTransport(op, err, provider.KindInvalidResponse)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, provider.ClassifyTransport(op, err, provider.KindInvalidResponse)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.NewError(provider.KindInvalidResponse, op, ErrInvalidCredentials)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, provider.NewError(provider.KindNetworkError, op, fmt.Errorf("platform API returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, provider.NewError(provider.KindInvalidResponse, op, describeAPIError(resp.StatusCode, data))
	}

	var out createAuthTokenResponse
	if err := json.Unmarshal(data, &out); err != nil || out.AuthToken == "" {
		return nil, provider.NewError(provider.KindInvalidResponse, op, errors.New("response carries no auth_token"))
	}

	ts := &auth.TokenSet{
		AccessToken: out.AuthToken,
		TokenType:   auth.SchemeGiantSwarm,
	}
	if p.cfg.TokenTTL > 0 {
		ts.ExpiresAt = p.cfg.Now().Add(p.cfg.TokenTTL)
	}

	logging.Audit("login_completed", "provider", Name, "email", creds.Email)

	return &provider.LoginStart{
		TokenSet: ts,
		User: &auth.User{
			Email:  creds.Email,
			Scheme: auth.SchemeGiantSwarm,
		},
	}, nil
}

// CompleteInteractiveLogin is never reached: logins complete in
// StartInteractiveLogin.
func (p *Provider) CompleteInteractiveLogin(ctx context.Context, responseURL string) (*auth.TokenSet, error) {
	return nil, provider.NewError(provider.KindInvalidResponse, "complete login", errors.New("the platform API does not redirect"))
}

// Renew always fails: auth tokens cannot be renewed.
func (p *Provider) Renew(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error) {
	return nil, provider.NewError(provider.KindRenewalFailed, "renew", errors.New("auth tokens cannot be renewed"))
}

// CanRenew implements provider.Provider.
func (p *Provider) CanRenew(current *auth.TokenSet) bool {
	return false
}

// DeriveUser returns the stored user; auth tokens carry no identity.
func (p *Provider) DeriveUser(ts *auth.TokenSet, stored *auth.User) (*auth.User, error) {
	if stored == nil || stored.Email == "" {
		return nil, provider.NewError(provider.KindInvalidResponse, "derive user", errors.New("no stored user for auth token"))
	}
	u := *stored
	u.Scheme = auth.SchemeGiantSwarm
	return &u, nil
}

// Logout deletes the auth token at the platform API.
func (p *Provider) Logout(ctx context.Context, ts *auth.TokenSet) error {
	const op = "delete auth token"
	if !ts.Valid() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.endpoint+"/v4/auth-tokens/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", ts.AuthorizationHeader())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.ClassifyTransport(op, err, provider.KindInvalidResponse)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	// An already invalid token is as good as deleted.
	if resp.StatusCode == http.StatusUnauthorized {
		return nil
	}
	if resp.StatusCode >= 300 {
		return provider.NewError(provider.KindInvalidResponse, op, describeAPIError(resp.StatusCode, data))
	}
	return nil
}

// FetchUser returns the account behind the session. client must attach the
// session's credentials, see package apiclient.
func (p *Provider) FetchUser(ctx context.Context, client *http.Client) (*auth.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/v4/user/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, describeAPIError(resp.StatusCode, data)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	return &auth.User{Email: info.Email, Scheme: auth.SchemeGiantSwarm}, nil
}

func describeAPIError(status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Message != "" {
		return fmt.Errorf("platform API returned %d (%s): %s", status, ae.Code, ae.Message)
	}
	return fmt.Errorf("platform API returned %d", status)
}
