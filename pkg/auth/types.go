package auth

import (
	"slices"
	"time"
)

// Scheme is the Authorization header scheme a token is presented with.
type Scheme string

const (
	// SchemeGiantSwarm is used by the legacy platform API.
	SchemeGiantSwarm Scheme = "giantswarm"
	// SchemeBearer is used by the Management API.
	SchemeBearer Scheme = "Bearer"
)

// TokenSet holds the credentials returned by a single token exchange.
type TokenSet struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    Scheme    `json:"tokenType,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether the token set carries an access token.
func (t *TokenSet) Valid() bool {
	return t != nil && t.AccessToken != ""
}

// HasExpiry reports whether the issuer set an expiry. Legacy tokens have none.
func (t *TokenSet) HasExpiry() bool {
	return t != nil && !t.ExpiresAt.IsZero()
}

// IsExpired reports whether the token set is expired at now.
func (t *TokenSet) IsExpired(now time.Time) bool {
	return t.IsExpiredWithMargin(now, 0)
}

// IsExpiredWithMargin reports whether the token set expires within margin of now.
func (t *TokenSet) IsExpiredWithMargin(now time.Time, margin time.Duration) bool {
	if !t.HasExpiry() {
		return false
	}
	return !now.Add(margin).Before(t.ExpiresAt)
}

// RenewalAt returns the instant renewal should start, skew before expiry.
// The zero time is returned for token sets without expiry.
func (t *TokenSet) RenewalAt(skew time.Duration) time.Time {
	if !t.HasExpiry() {
		return time.Time{}
	}
	return t.ExpiresAt.Add(-skew)
}

// AuthorizationHeader renders the value of the Authorization header.
func (t *TokenSet) AuthorizationHeader() string {
	scheme := t.TokenType
	if scheme == "" {
		scheme = SchemeBearer
	}
	return string(scheme) + " " + t.AccessToken
}

// CarryForward fills the optional fields a renewal response may omit with the
// values of prev. The access token and expiry are never carried.
func (t *TokenSet) CarryForward(prev *TokenSet) {
	if prev == nil {
		return
	}
	if t.IDToken == "" {
		t.IDToken = prev.IDToken
	}
	if t.RefreshToken == "" {
		t.RefreshToken = prev.RefreshToken
	}
	if t.TokenType == "" {
		t.TokenType = prev.TokenType
	}
}

// User is the identity derived from a token set.
type User struct {
	Email   string   `json:"email"`
	Subject string   `json:"subject,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	IsAdmin bool     `json:"isAdmin"`
	Scheme  Scheme   `json:"scheme"`
}

// InAnyGroup reports whether the user is a member of at least one of groups.
func (u *User) InAnyGroup(groups []string) bool {
	if u == nil {
		return false
	}
	for _, g := range groups {
		if slices.Contains(u.Groups, g) {
			return true
		}
	}
	return false
}

// Impersonation describes the identity requests are made on behalf of.
type Impersonation struct {
	User   string   `json:"user"`
	Groups []string `json:"groups,omitempty"`
}
