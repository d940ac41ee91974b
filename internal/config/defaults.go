package config

import "time"

const (
	DefaultRenewalSkew          = 60 * time.Second
	DefaultRenewalRetryInterval = 10 * time.Second
	DefaultRenewalRetryMax      = 2 * time.Minute
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultCallbackPort         = 3000
	DefaultClientID             = "fFlz7lckhWA0kIaW3fLIl8chFSs2wvW6"
	DefaultAudience             = "dex-k8s-authenticator"
)

// DefaultScopes are requested from Dex. offline_access yields the refresh
// token renewal depends on.
var DefaultScopes = []string{"openid", "offline_access", "profile", "email", "groups"}

// DefaultAdminGroups mark platform administrators.
var DefaultAdminGroups = []string{"api-admin"}

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() HappaConfig {
	return HappaConfig{
		Provider:             ProviderMAPI,
		RenewalSkew:          DefaultRenewalSkew,
		RenewalRetryInterval: DefaultRenewalRetryInterval,
		RenewalRetryMax:      DefaultRenewalRetryMax,
		HTTPTimeout:          DefaultHTTPTimeout,
		MAPI: MAPIConfig{
			ClientID:     DefaultClientID,
			Audience:     DefaultAudience,
			Scopes:       append([]string(nil), DefaultScopes...),
			CallbackPort: DefaultCallbackPort,
			Discovery:    true,
			AdminGroups:  append([]string(nil), DefaultAdminGroups...),
		},
	}
}
