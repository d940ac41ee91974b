package mapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"happa/internal/config"
	"happa/internal/provider"
	"happa/pkg/auth"
	"happa/pkg/logging"
	"happa/pkg/oauth"
)

// Name is the provider name and storage key.
const Name = "mapi"

// Config configures the Management API provider.
type Config struct {
	config.MAPIConfig

	// HTTPClient is used for discovery, token and JWKS requests.
	HTTPClient *http.Client

	// Now overrides the clock used for ID token expiry checks.
	Now func() time.Time
}

// Provider is the OIDC provider for Management API installations.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	discovery  *oauth.Client

	mu        sync.Mutex
	metadata  *oauth.Metadata
	verifier  *oidc.IDTokenVerifier
	pending   *pendingLogin
	connector string
}

type pendingLogin struct {
	state        string
	nonce        string
	codeVerifier string
	redirectURI  string
	server       *CallbackServer
	cancel       context.CancelFunc
}

var _ provider.Provider = (*Provider)(nil)

// New creates the provider. No network calls are made until first use.
func New(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("mapi: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("mapi: client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: oauth.DefaultHTTPTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		discovery:  oauth.NewClient(oauth.WithHTTPClient(httpClient)),
		connector:  cfg.Connector,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return Name
}

// SetConnector selects the Dex connector for the next login. An empty value
// lets Dex show its connector picker.
func (p *Provider) SetConnector(connector string) {
	p.mu.Lock()
	p.connector = connector
	p.mu.Unlock()
}

// Scopes returns the scopes requested at login.
func (p *Provider) Scopes() []string {
	scopes := append([]string(nil), p.cfg.Scopes...)
	if len(scopes) == 0 {
		scopes = append(scopes, config.DefaultScopes...)
	}
	if p.cfg.Audience != "" {
		scopes = append(scopes, "audience:server:client_id:"+p.cfg.Audience)
	}
	return scopes
}

// resolve loads endpoints and builds the ID token verifier once.
func (p *Provider) resolve(ctx context.Context) (*oauth.Metadata, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	if p.metadata != nil {
		md, v := p.metadata, p.verifier
		p.mu.Unlock()
		return md, v, nil
	}
	p.mu.Unlock()

	var md *oauth.Metadata
	if p.cfg.Discovery {
		var err error
		md, err = p.discovery.DiscoverMetadata(ctx, p.cfg.Issuer)
		if err != nil {
			return nil, nil, provider.ClassifyTransport("discover endpoints", err, provider.KindInvalidResponse)
		}
	} else {
		md = oauth.DexMetadata(p.cfg.Issuer)
	}

	var keySet oidc.KeySet
	if len(p.cfg.SigningKeys) > 0 {
		static, err := staticKeySet(p.cfg.SigningKeys)
		if err != nil {
			return nil, nil, provider.NewError(provider.KindInvalidResponse, "load signing keys", err)
		}
		keySet = static
	} else {
		if md.JwksURI == "" {
			return nil, nil, provider.NewError(provider.KindInvalidResponse, "discover endpoints", errors.New("issuer publishes no jwks_uri"))
		}
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), p.httpClient), md.JwksURI)
	}

	issuer := md.Issuer
	if issuer == "" {
		issuer = oauth.NormalizeIssuerURL(p.cfg.Issuer)
	}
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:             p.cfg.ClientID,
		SupportedSigningAlgs: md.IDTokenSigningAlgValuesSupported,
		Now:                  p.cfg.Now,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metadata == nil {
		p.metadata, p.verifier = md, verifier
	}
	return p.metadata, p.verifier, nil
}

func (p *Provider) oauth2Config(md *oauth.Metadata, redirectURI string) *oauth2.Config {
	endpoint := oauth2.Endpoint{
		AuthURL:  md.AuthorizationEndpoint,
		TokenURL: md.TokenEndpoint,
	}
	if p.cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       p.Scopes(),
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// StartInteractiveLogin starts the loopback listener and returns the
// authorization URL. A login already in progress is abandoned. The listener
// lives until the redirect arrives, ctx ends, or CallbackTimeout passes.
func (p *Provider) StartInteractiveLogin(ctx context.Context) (*provider.LoginStart, error) {
	md, _, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !md.SupportsPKCE() {
		return nil, provider.NewError(provider.KindInvalidResponse, "start login", errors.New("issuer does not support S256 PKCE"))
	}

	pkce := oauth.GeneratePKCE()
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}
	nonce, err := oauth.GenerateNonce()
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithTimeout(ctx, CallbackTimeout)
	server := NewCallbackServer(p.cfg.CallbackPort)
	redirectURI, err := server.Start(listenCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	p.mu.Lock()
	p.abandonPendingLocked()
	p.pending = &pendingLogin{
		state:        state,
		nonce:        nonce,
		codeVerifier: pkce.CodeVerifier,
		redirectURI:  redirectURI,
		server:       server,
		cancel:       cancel,
	}
	connector := p.connector
	p.mu.Unlock()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(pkce.CodeVerifier),
		oidc.Nonce(nonce),
	}
	if connector != "" {
		opts = append(opts, oauth2.SetAuthURLParam("connector_id", connector))
	}
	authURL := p.oauth2Config(md, redirectURI).AuthCodeURL(state, opts...)

	logging.Debug("MAPI", "Started login against %s, redirect %s", md.Issuer, redirectURI)

	return &provider.LoginStart{
		AuthURL: authURL,
		Wait:    server.Wait,
	}, nil
}

func (p *Provider) abandonPendingLocked() {
	if p.pending != nil {
		p.pending.cancel()
		p.pending = nil
	}
}

// CompleteInteractiveLogin validates the redirect and exchanges the code.
func (p *Provider) CompleteInteractiveLogin(ctx context.Context, responseURL string) (*auth.TokenSet, error) {
	const op = "complete login"

	u, err := url.Parse(responseURL)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidResponse, op, err)
	}
	query := u.Query()

	// The pending login is single use whatever the outcome.
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if pending == nil {
		return nil, provider.NewError(provider.KindStateMismatch, op, errors.New("no login in progress"))
	}
	defer pending.cancel()

	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(pending.state)) != 1 {
		logging.Warn("MAPI", "OAuth state mismatch detected - possible CSRF attack")
		return nil, provider.NewError(provider.KindStateMismatch, op, errors.New("state does not match the login in progress"))
	}

	if e := query.Get("error"); e != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = e
		}
		return nil, provider.NewError(provider.KindInvalidResponse, op, fmt.Errorf("%s: %s", e, desc))
	}

	code := query.Get("code")
	if code == "" {
		return nil, provider.NewError(provider.KindInvalidResponse, op, errors.New("redirect carries no authorization code"))
	}

	md, verifier, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := p.oauth2Config(md, pending.redirectURI).Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(pending.codeVerifier))
	if err != nil {
		return nil, classifyTokenError("exchange code", err, provider.KindInvalidResponse)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, provider.NewError(provider.KindInvalidResponse, op, errors.New("token response has no id_token"))
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, provider.ClassifyTransport("verify ID token", err, provider.KindInvalidResponse)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(pending.nonce)) != 1 {
		return nil, provider.NewError(provider.KindInvalidResponse, "verify ID token", errors.New("nonce mismatch"))
	}

	ts := tokenSet(tok, rawIDToken, idToken.Expiry)
	logging.Audit("login_completed", "provider", Name, "subject", idToken.Subject)
	return ts, nil
}

// Renew exchanges the refresh token for a new token set.
func (p *Provider) Renew(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error) {
	const op = "renew"

	if !p.CanRenew(current) {
		return nil, provider.NewError(provider.KindRenewalFailed, op, errors.New("no refresh token"))
	}

	md, verifier, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	src := p.oauth2Config(md, "").TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(op, err, provider.KindRenewalFailed)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	var idExpiry time.Time
	if rawIDToken != "" {
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, provider.ClassifyTransport("verify renewed ID token", err, provider.KindRenewalFailed)
		}
		idExpiry = idToken.Expiry
	}

	ts := tokenSet(tok, rawIDToken, idExpiry)
	ts.CarryForward(current)
	return ts, nil
}

// CanRenew implements provider.Provider.
func (p *Provider) CanRenew(current *auth.TokenSet) bool {
	return current != nil && current.RefreshToken != ""
}

// DeriveUser reads identity from the ID token, falling back to stored.
func (p *Provider) DeriveUser(ts *auth.TokenSet, stored *auth.User) (*auth.User, error) {
	if ts == nil {
		return nil, provider.NewError(provider.KindInvalidResponse, "derive user", errors.New("no token set"))
	}

	claims, err := readClaims(ts.IDToken)
	if err != nil {
		if stored != nil {
			return stored, nil
		}
		return nil, provider.NewError(provider.KindInvalidResponse, "derive user", err)
	}

	user := &auth.User{
		Email:   claims.Email,
		Subject: claims.Subject,
		Groups:  claims.Groups,
		Scheme:  auth.SchemeBearer,
	}
	user.IsAdmin = user.InAnyGroup(p.cfg.AdminGroups)
	return user, nil
}

// Logout revokes the refresh token and the access token where the issuer
// advertises a revocation endpoint. Dex does not, in which case this is a
// no-op and the tokens simply expire.
func (p *Provider) Logout(ctx context.Context, ts *auth.TokenSet) error {
	p.mu.Lock()
	p.abandonPendingLocked()
	p.mu.Unlock()

	if ts == nil {
		return nil
	}

	md, _, err := p.resolve(ctx)
	if err != nil {
		return err
	}
	if md.RevocationEndpoint == "" {
		logging.Debug("MAPI", "Issuer %s has no revocation endpoint, skipping revocation", md.Issuer)
		return nil
	}

	rev := oauth.Revocation{
		Endpoint:     md.RevocationEndpoint,
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
	}
	var errs []error
	if ts.RefreshToken != "" {
		errs = append(errs, p.discovery.Revoke(ctx, rev, ts.RefreshToken, oauth.HintRefreshToken))
	}
	errs = append(errs, p.discovery.Revoke(ctx, rev, ts.AccessToken, oauth.HintAccessToken))

	if err := errors.Join(errs...); err != nil {
		return provider.ClassifyTransport("revoke tokens", err, provider.KindInvalidResponse)
	}
	return nil
}

func tokenSet(tok *oauth2.Token, rawIDToken string, idExpiry time.Time) *auth.TokenSet {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = idExpiry
	}
	return &auth.TokenSet{
		AccessToken:  tok.AccessToken,
		TokenType:    auth.SchemeBearer,
		IDToken:      rawIDToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// classifyTokenError maps token endpoint failures. A server error is
// treated as transient; any other protocol error is terminal.
func classifyTokenError(op string, err error, terminal provider.Kind) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return provider.NewError(provider.KindNetworkError, op, err)
		}
		return provider.NewError(terminal, op, err)
	}
	return provider.ClassifyTransport(op, err, terminal)
}
