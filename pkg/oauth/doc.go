// Package oauth provides the OAuth 2.0 / OpenID Connect primitives happa
// needs around golang.org/x/oauth2: authorization server metadata discovery
// with caching, the static Dex endpoint layout used by Management API
// installations, PKCE and state generation, and token revocation.
//
// # Core Components
//
//   - Metadata: OAuth/OIDC server metadata (RFC 8414)
//   - Client: metadata discovery (cached, deduplicated) and revocation (RFC 7009)
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//
// The code exchange and refresh grants themselves go through
// golang.org/x/oauth2; this package only supplies what that library leaves
// to the caller.
package oauth
