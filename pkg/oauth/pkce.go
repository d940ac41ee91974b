package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// randomBytes gives state and nonce 256 bits of entropy, 43 characters once
// encoded. Dex rejects states shorter than 32.
const randomBytes = 32

// GeneratePKCE returns a fresh code verifier and its S256 challenge.
func GeneratePKCE() *PKCEChallenge {
	verifier := oauth2.GenerateVerifier()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       S256Challenge(verifier),
		CodeChallengeMethod: "S256",
	}
}

// S256Challenge is the challenge an authorization server expects for verifier.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns the random value binding an authorization response
// to the request that started it.
func GenerateState() (string, error) {
	return random("state")
}

// GenerateNonce returns the OIDC nonce echoed back inside the ID token.
func GenerateNonce() (string, error) {
	return random("nonce")
}

func random(what string) (string, error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
