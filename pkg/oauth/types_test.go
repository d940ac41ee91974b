package oauth

import "testing"

func TestNormalizeIssuerURL(t *testing.T) {
	tests := map[string]string{
		"https://dex.example.com/":  "https://dex.example.com",
		"https://dex.example.com//": "https://dex.example.com",
		" https://dex.example.com ": "https://dex.example.com",
		"https://dex.example.com":   "https://dex.example.com",
	}
	for in, want := range tests {
		if got := NormalizeIssuerURL(in); got != want {
			t.Errorf("NormalizeIssuerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDexMetadata(t *testing.T) {
	m := DexMetadata("https://dex.g8s.example.io/")

	if m.Issuer != "https://dex.g8s.example.io" {
		t.Errorf("unexpected issuer %s", m.Issuer)
	}
	if m.AuthorizationEndpoint != "https://dex.g8s.example.io/auth" {
		t.Errorf("unexpected authorization endpoint %s", m.AuthorizationEndpoint)
	}
	if m.TokenEndpoint != "https://dex.g8s.example.io/token" {
		t.Errorf("unexpected token endpoint %s", m.TokenEndpoint)
	}
	if m.JwksURI != "https://dex.g8s.example.io/keys" {
		t.Errorf("unexpected jwks uri %s", m.JwksURI)
	}
	if !m.SupportsPKCE() {
		t.Error("expected Dex metadata to support PKCE")
	}
}

func TestMetadata_SupportsPKCE(t *testing.T) {
	tests := []struct {
		name    string
		methods []string
		want    bool
	}{
		{"unspecified", nil, true},
		{"S256", []string{"plain", "S256"}, true},
		{"plain only", []string{"plain"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Metadata{CodeChallengeMethodsSupported: tt.methods}
			if got := m.SupportsPKCE(); got != tt.want {
				t.Errorf("SupportsPKCE() = %v, want %v", got, tt.want)
			}
		})
	}
}
