package config

import "time"

// Provider names.
const (
	ProviderMAPI   = "mapi"
	ProviderLegacy = "legacy"
)

// HappaConfig is the top-level configuration.
type HappaConfig struct {
	// Provider selects the identity provider: "mapi" or "legacy".
	Provider string `yaml:"provider"`

	// TokenStorageDir overrides where sessions are persisted.
	TokenStorageDir string `yaml:"tokenStorageDir,omitempty"`

	// RenewalSkew is how long before expiry renewal starts.
	RenewalSkew time.Duration `yaml:"renewalSkew"`

	// RenewalRetryInterval is the first retry delay after a network failure.
	RenewalRetryInterval time.Duration `yaml:"renewalRetryInterval"`

	// RenewalRetryMax caps the retry delay.
	RenewalRetryMax time.Duration `yaml:"renewalRetryMax"`

	// HTTPTimeout bounds every call to an identity provider or API.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`

	MAPI   MAPIConfig   `yaml:"mapi"`
	Legacy LegacyConfig `yaml:"legacy"`
}

// MAPIConfig configures the Management API OpenID Connect provider.
type MAPIConfig struct {
	// Issuer is the Dex issuer URL, e.g. https://dex.g8s.example.io.
	Issuer string `yaml:"issuer"`

	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret,omitempty"`

	Scopes []string `yaml:"scopes,omitempty"`

	// Audience adds Dex's cross-client audience scope when set.
	Audience string `yaml:"audience,omitempty"`

	// Connector preselects a Dex connector.
	Connector string `yaml:"connector,omitempty"`

	// CallbackPort is the loopback port for the redirect listener.
	CallbackPort int `yaml:"callbackPort"`

	// Discovery fetches endpoints from the issuer; when false the Dex layout
	// is assumed.
	Discovery bool `yaml:"discovery"`

	// SigningKeys, when set, are used to verify ID tokens instead of the
	// issuer's JWKS endpoint.
	SigningKeys []SigningKey `yaml:"signingKeys,omitempty"`

	// AdminGroups grant the admin flag to members.
	AdminGroups []string `yaml:"adminGroups,omitempty"`

	// APIEndpoint is the Kubernetes API server of the management cluster.
	APIEndpoint string `yaml:"apiEndpoint,omitempty"`

	// CAFile is a PEM bundle for APIEndpoint, when it is not publicly trusted.
	CAFile string `yaml:"caFile,omitempty"`
}

// SigningKey is a public JSON Web Key as published by Dex.
type SigningKey struct {
	Use string `yaml:"use" json:"use,omitempty"`
	Kty string `yaml:"kty" json:"kty"`
	Kid string `yaml:"kid" json:"kid"`
	Alg string `yaml:"alg" json:"alg,omitempty"`
	N   string `yaml:"n" json:"n,omitempty"`
	E   string `yaml:"e" json:"e,omitempty"`
	Crv string `yaml:"crv,omitempty" json:"crv,omitempty"`
	X   string `yaml:"x,omitempty" json:"x,omitempty"`
	Y   string `yaml:"y,omitempty" json:"y,omitempty"`
}

// LegacyConfig configures the legacy platform API provider.
type LegacyConfig struct {
	// Endpoint is the platform API base URL.
	Endpoint string `yaml:"endpoint"`

	// TokenTTL, when non-zero, is treated as the lifetime of issued tokens.
	TokenTTL time.Duration `yaml:"tokenTTL,omitempty"`
}
