package mapi

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"happa/internal/config"
	"happa/pkg/oauth"
)

const (
	testClientID = "happa-test"
	testKeyID    = "test-key"
)

// fakeDex is a minimal OIDC issuer: discovery, JWKS, token and revocation.
type fakeDex struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	challenges    map[string]string // code -> code_challenge
	nonces        map[string]string // code -> nonce
	nonceOverride string
	refreshDelay  time.Duration
	withRevoke    bool
	noRefreshID   bool

	refreshCalls int32
	revokeCalls  int32
}

func newFakeDex(t *testing.T) *fakeDex {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	d := &fakeDex{
		t:          t,
		key:        key,
		challenges: map[string]string{},
		nonces:     map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", d.handleDiscovery)
	mux.HandleFunc("/keys", d.handleKeys)
	mux.HandleFunc("/token", d.handleToken)
	mux.HandleFunc("/revoke", d.handleRevoke)
	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDex) issuer() string { return d.server.URL }

// authorize records what the browser would have sent to /auth and returns
// the code Dex would redirect back with.
func (d *fakeDex) authorize(challenge, nonce string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := "code-" + nonce[:8]
	d.challenges[code] = challenge
	d.nonces[code] = nonce
	return code
}

func (d *fakeDex) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	md := oauth.Metadata{
		Issuer:                           d.issuer(),
		AuthorizationEndpoint:            d.issuer() + "/auth",
		TokenEndpoint:                    d.issuer() + "/token",
		JwksURI:                          d.issuer() + "/keys",
		CodeChallengeMethodsSupported:    []string{"S256"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
	d.mu.Lock()
	if d.withRevoke {
		md.RevocationEndpoint = d.issuer() + "/revoke"
	}
	d.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(md)
}

func (d *fakeDex) handleKeys(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &d.key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (d *fakeDex) signingKey() config.SigningKey {
	return config.SigningKey{
		Use: "sig",
		Kty: "RSA",
		Kid: testKeyID,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(d.key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(d.key.E)).Bytes()),
	}
}

func (d *fakeDex) idToken(nonce string) string {
	claims := jwt.MapClaims{
		"iss":    d.issuer(),
		"sub":    "user-1",
		"aud":    testClientID,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"iat":    time.Now().Unix(),
		"email":  "dev@example.com",
		"groups": []string{"devs", "api-admin"},
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(d.key)
	require.NoError(d.t, err)
	return signed
}

func (d *fakeDex) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *fakeDex) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		d.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		code := r.Form.Get("code")
		d.mu.Lock()
		challenge, ok := d.challenges[code]
		nonce := d.nonces[code]
		delete(d.challenges, code)
		if d.nonceOverride != "" {
			nonce = d.nonceOverride
		}
		d.mu.Unlock()

		if !ok || oauth.S256Challenge(r.Form.Get("code_verifier")) != challenge {
			d.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		d.writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"token_type":    "bearer",
			"expires_in":    1800,
			"refresh_token": "rt-valid",
			"id_token":      d.idToken(nonce),
		})

	case "refresh_token":
		atomic.AddInt32(&d.refreshCalls, 1)
		d.mu.Lock()
		delay := d.refreshDelay
		noID := d.noRefreshID
		d.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}

		switch r.Form.Get("refresh_token") {
		case "rt-valid":
			resp := map[string]any{
				"access_token":  "access-2",
				"token_type":    "bearer",
				"expires_in":    1800,
				"refresh_token": "rt-valid",
			}
			if !noID {
				resp["id_token"] = d.idToken("")
			}
			d.writeJSON(w, http.StatusOK, resp)
		case "rt-flaky":
			d.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		default:
			d.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		}

	default:
		d.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (d *fakeDex) handleRevoke(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&d.revokeCalls, 1)
	w.WriteHeader(http.StatusOK)
}
