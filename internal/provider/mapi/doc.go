// Package mapi implements the Management API identity provider: OpenID
// Connect against the installation's Dex, using the authorization code flow
// with PKCE, a loopback redirect listener, and refresh tokens for silent
// renewal.
//
// Endpoints come from discovery or, when discovery is disabled, from Dex's
// fixed layout under the issuer. ID tokens are verified against the issuer's
// JWKS, or against signing keys pinned in configuration.
package mapi
