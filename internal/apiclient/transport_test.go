package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"happa/pkg/auth"
)

type fakeSession struct {
	mu       sync.Mutex
	token    string
	scheme   auth.Scheme
	renewTo  string
	tokenErr error
	rejected []string
}

func (s *fakeSession) Token(ctx context.Context) (*auth.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return &auth.TokenSet{AccessToken: s.token, TokenType: s.scheme}, nil
}

func (s *fakeSession) HandleUnauthorized(ctx context.Context, rejected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, rejected)
	if s.renewTo == "" {
		return errors.New("session expired")
	}
	s.token = s.renewTo
	return nil
}

// apiServer accepts only "Bearer good" and echoes request bodies.
func apiServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestTransport_AttachesToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := NewHTTPClient(&fakeSession{token: "gs-token", scheme: auth.SchemeGiantSwarm}, 0)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "giantswarm gs-token", got)
}

func TestTransport_RetriesOnceAfterRenewal(t *testing.T) {
	srv, seen := apiServer(t)
	sess := &fakeSession{token: "stale", renewTo: "good"}
	client := NewHTTPClient(sess, 0)

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(body), "body is replayed on retry")
	assert.Equal(t, []string{"Bearer stale", "Bearer good"}, *seen)
	assert.Equal(t, []string{"stale"}, sess.rejected)
}

func TestTransport_ReturnsUnauthorizedWhenSessionCannotRecover(t *testing.T) {
	srv, seen := apiServer(t)
	sess := &fakeSession{token: "revoked"}
	client := NewHTTPClient(sess, 0)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, *seen, 1)
	assert.Equal(t, []string{"revoked"}, sess.rejected)
}

func TestTransport_DoesNotRetryUnreplayableBody(t *testing.T) {
	srv, seen := apiServer(t)
	sess := &fakeSession{token: "stale", renewTo: "good"}

	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader("once")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := NewTransport(nil, sess).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, *seen, 1)
}

func TestTransport_NoSessionSendsNothing(t *testing.T) {
	srv, seen := apiServer(t)
	client := NewHTTPClient(&fakeSession{tokenErr: errors.New("not logged in")}, 0)

	_, err := client.Get(srv.URL)
	assert.ErrorContains(t, err, "not logged in")
	assert.Empty(t, *seen)
}
