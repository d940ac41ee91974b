package mapi

import (
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"

	"happa/internal/config"
)

// staticKeySet builds a key set from signing keys pinned in configuration.
// Only public signing keys are accepted.
func staticKeySet(keys []config.SigningKey) (*oidc.StaticKeySet, error) {
	set := &oidc.StaticKeySet{}
	for _, k := range keys {
		pub, err := parseSigningKey(k)
		if err != nil {
			return nil, fmt.Errorf("signing key %q: %w", k.Kid, err)
		}
		set.PublicKeys = append(set.PublicKeys, pub)
	}
	return set, nil
}

func parseSigningKey(k config.SigningKey) (crypto.PublicKey, error) {
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("key use %q is not sig", k.Use)
	}

	raw, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	if !jwk.Valid() {
		return nil, fmt.Errorf("invalid JSON web key")
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("private key material must not be configured")
	}

	return jwk.Key, nil
}
