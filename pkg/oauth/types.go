package oauth

import (
	"slices"
	"strings"
)

// DefaultTokenStorageDir is the default directory for persisted sessions,
// relative to the user's home directory.
const DefaultTokenStorageDir = ".config/happa/tokens"

// NormalizeIssuerURL strips trailing slashes so that discovery cache keys and
// ID token issuer comparisons agree regardless of how the issuer was configured.
func NormalizeIssuerURL(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

// IDTokenClaims holds the identity claims happa reads from ID tokens.
type IDTokenClaims struct {
	// Subject is the unique user identifier (sub claim).
	Subject string `json:"sub"`
	// Email is the user's email address (email claim).
	Email string `json:"email"`
	// Groups are the group memberships asserted by the identity provider.
	Groups []string `json:"groups,omitempty"`
	// Nonce echoes the nonce sent in the authorization request.
	Nonce string `json:"nonce,omitempty"`
}

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in RFC 8414.
type Metadata struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// UserinfoEndpoint is the URL of the userinfo endpoint (OIDC).
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// JwksURI is the URL of the JSON Web Key Set.
	JwksURI string `json:"jwks_uri,omitempty"`

	// RevocationEndpoint is the RFC 7009 token revocation endpoint, if any.
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// ScopesSupported lists the OAuth 2.0 scope values supported.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// IDTokenSigningAlgValuesSupported lists the ID token signing algorithms.
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0 || slices.Contains(m.CodeChallengeMethodsSupported, "S256")
}

// DexMetadata returns the endpoint layout of a Dex issuer without a discovery
// round trip. Management API installations serve Dex at the issuer root.
func DexMetadata(issuer string) *Metadata {
	issuer = NormalizeIssuerURL(issuer)
	return &Metadata{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/auth",
		TokenEndpoint:                    issuer + "/token",
		UserinfoEndpoint:                 issuer + "/userinfo",
		JwksURI:                          issuer + "/keys",
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and sent only with the code exchange.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}
