package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that the configuration can drive the selected provider.
// Sections for the provider not in use are not checked.
func (c *HappaConfig) Validate(filePath string) error {
	var problems []string
	var suggestions []string

	if c.RenewalSkew < 0 {
		problems = append(problems, "renewalSkew must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "httpTimeout must be positive")
	}
	if c.RenewalRetryInterval <= 0 {
		problems = append(problems, "renewalRetryInterval must be positive")
	}
	if c.RenewalRetryMax < c.RenewalRetryInterval {
		problems = append(problems, "renewalRetryMax must not be smaller than renewalRetryInterval")
	}

	switch c.Provider {
	case ProviderMAPI:
		if c.MAPI.Issuer != "" {
			if err := validateURL(c.MAPI.Issuer); err != nil {
				problems = append(problems, fmt.Sprintf("mapi.issuer: %v", err))
			}
		}
		if c.MAPI.ClientID == "" {
			problems = append(problems, "mapi.clientID is required")
		}
		if c.MAPI.CallbackPort <= 0 || c.MAPI.CallbackPort > 65535 {
			problems = append(problems, fmt.Sprintf("mapi.callbackPort %d is out of range", c.MAPI.CallbackPort))
		}
		for i, k := range c.MAPI.SigningKeys {
			if k.Kid == "" || k.Kty == "" {
				problems = append(problems, fmt.Sprintf("mapi.signingKeys[%d] needs kid and kty", i))
			}
		}
	case ProviderLegacy:
		if c.Legacy.Endpoint != "" {
			if err := validateURL(c.Legacy.Endpoint); err != nil {
				problems = append(problems, fmt.Sprintf("legacy.endpoint: %v", err))
			}
		}
		if c.Legacy.TokenTTL < 0 {
			problems = append(problems, "legacy.tokenTTL must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown provider %q", c.Provider))
		suggestions = append(suggestions, "Set provider to mapi or legacy")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigurationError{
		FilePath:    filePath,
		ErrorType:   "validation",
		Message:     strings.Join(problems, "; "),
		Suggestions: suggestions,
	}
}

// RequireEndpoints reports a missing issuer or API endpoint once a command
// actually needs to talk to the provider.
func (c *HappaConfig) RequireEndpoints() error {
	switch c.Provider {
	case ProviderMAPI:
		if c.MAPI.Issuer == "" {
			return fmt.Errorf("no Management API issuer configured; set mapi.issuer in config.yaml or pass --issuer")
		}
	case ProviderLegacy:
		if c.Legacy.Endpoint == "" {
			return fmt.Errorf("no platform API endpoint configured; set legacy.endpoint in config.yaml or pass --endpoint")
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
