package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"happa/pkg/logging"
)

const (
	// DefaultHTTPTimeout bounds discovery and revocation requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is how long discovered metadata is reused.
	DefaultMetadataCacheTTL = 30 * time.Minute
)

// wellKnownPaths are tried in order. Dex only serves the first; the second
// covers plain RFC 8414 authorization servers.
var wellKnownPaths = []string{
	"/.well-known/openid-configuration",
	"/.well-known/oauth-authorization-server",
}

// ErrMetadataStatus is wrapped when the issuer answers discovery with a
// non-200 status.
var ErrMetadataStatus = errors.New("unexpected metadata response status")

// TokenTypeHint tells the revocation endpoint which kind of token it gets.
type TokenTypeHint string

const (
	HintAccessToken  TokenTypeHint = "access_token"
	HintRefreshToken TokenTypeHint = "refresh_token"
)

// Revocation identifies the endpoint and client for RFC 7009 requests.
type Revocation struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
}

type cachedMetadata struct {
	metadata *Metadata
	expires  time.Time
}

// Client performs the protocol steps x/oauth2 leaves to callers: metadata
// discovery and token revocation.
type Client struct {
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	cache  map[string]cachedMetadata
	flight singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetadataCacheTTL sets how long discovered metadata is reused.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.ttl = ttl
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		ttl:        DefaultMetadataCacheTTL,
		now:        time.Now,
		cache:      make(map[string]cachedMetadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverMetadata returns the issuer's metadata. Concurrent calls for one
// issuer share a single request and results are cached.
//
// Only a non-200 answer moves on to the next well-known path; a transport
// failure is returned as is.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = NormalizeIssuerURL(issuer)

	if md := c.lookup(issuer); md != nil {
		return md, nil
	}

	v, err, _ := c.flight.Do(issuer, func() (any, error) {
		if md := c.lookup(issuer); md != nil {
			return md, nil
		}

		var lastErr error
		for _, path := range wellKnownPaths {
			md, err := c.fetchMetadata(ctx, issuer+path)
			if err == nil {
				c.store(issuer, md)
				return md, nil
			}
			lastErr = err
			if !errors.Is(err, ErrMetadataStatus) {
				break
			}
			logging.Debug("OAuth", "No metadata at %s%s: %v", issuer, path, err)
		}
		return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, lastErr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Metadata), nil
}

func (c *Client) lookup(issuer string) *Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.cache[issuer]; ok && c.now().Before(e.expires) {
		return e.metadata
	}
	return nil
}

func (c *Client) store(issuer string, md *Metadata) {
	c.mu.Lock()
	c.cache[issuer] = cachedMetadata{metadata: md, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	logging.Debug("OAuth", "Discovered %s: authorization %s, token %s", issuer, md.AuthorizationEndpoint, md.TokenEndpoint)
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", ErrMetadataStatus, resp.StatusCode, metadataURL)
	}

	var md Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata from %s: %w", metadataURL, err)
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s is missing authorization or token endpoint", metadataURL)
	}
	return &md, nil
}

// Revoke asks the authorization server to revoke token (RFC 7009). A client
// secret, when set, is sent with HTTP basic authentication.
func (c *Client) Revoke(ctx context.Context, rev Revocation, token string, hint TokenTypeHint) error {
	form := url.Values{
		"token":     {token},
		"client_id": {rev.ClientID},
	}
	if hint != "" {
		form.Set("token_type_hint", string(hint))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rev.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rev.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(rev.ClientID), url.QueryEscape(rev.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking %s: %w", hint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoking %s: status %d", hint, resp.StatusCode)
	}
	return nil
}
