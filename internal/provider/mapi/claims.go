package mapi

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"happa/pkg/oauth"
)

type idTokenClaims struct {
	Email  string   `json:"email"`
	Groups []string `json:"groups,omitempty"`
	Nonce  string   `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// readClaims extracts identity claims without checking the signature. Used
// only for tokens that were verified when they were obtained and then
// persisted by this process.
func readClaims(rawIDToken string) (*oauth.IDTokenClaims, error) {
	if rawIDToken == "" {
		return nil, errors.New("no ID token")
	}

	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	return &oauth.IDTokenClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Groups:  claims.Groups,
		Nonce:   claims.Nonce,
	}, nil
}
