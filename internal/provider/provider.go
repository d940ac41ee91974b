package provider

import (
	"context"

	"happa/pkg/auth"
)

// Provider is an identity provider the session controller can drive.
type Provider interface {
	// Name identifies the provider and keys its persisted session.
	Name() string

	// StartInteractiveLogin begins a login. Redirect-based providers return an
	// AuthURL and a Wait function; credential-based providers complete the
	// login immediately and return the TokenSet.
	StartInteractiveLogin(ctx context.Context) (*LoginStart, error)

	// CompleteInteractiveLogin validates the redirect back from the provider
	// and exchanges it for a token set.
	CompleteInteractiveLogin(ctx context.Context, responseURL string) (*auth.TokenSet, error)

	// Renew obtains a fresh token set without user interaction.
	Renew(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error)

	// CanRenew reports whether Renew can succeed for the token set at all.
	CanRenew(current *auth.TokenSet) bool

	// DeriveUser returns the identity behind a token set. stored is the user
	// persisted with the token set, if any.
	DeriveUser(ts *auth.TokenSet, stored *auth.User) (*auth.User, error)

	// Logout revokes the token set at the provider. Best effort.
	Logout(ctx context.Context, ts *auth.TokenSet) error
}

// LoginStart is the result of StartInteractiveLogin.
type LoginStart struct {
	// AuthURL is where the user must be sent to authenticate.
	AuthURL string

	// Wait blocks until the provider redirects back and returns the full
	// response URL, to be passed to HandleProviderCallback.
	Wait func(ctx context.Context) (string, error)

	// TokenSet is set when the login completed without a redirect.
	TokenSet *auth.TokenSet

	// User may accompany TokenSet when the provider knows it up front.
	User *auth.User
}

// Redirect reports whether the login requires a round trip via AuthURL.
func (s *LoginStart) Redirect() bool {
	return s != nil && s.AuthURL != ""
}
