package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"happa/internal/provider"
	"happa/internal/tokenstore"
	"happa/pkg/auth"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider carries the user's email in IDToken so DeriveUser needs no JWT.
type fakeProvider struct {
	now func() time.Time

	mu          sync.Mutex
	renewCalls  int
	logoutCalls int
	loggedOut   []*auth.TokenSet

	renew     func(ctx context.Context, ts *auth.TokenSet) (*auth.TokenSet, error)
	start     func(ctx context.Context) (*provider.LoginStart, error)
	logoutErr error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) StartInteractiveLogin(ctx context.Context) (*provider.LoginStart, error) {
	if f.start != nil {
		return f.start(ctx)
	}
	return &provider.LoginStart{
		AuthURL: "https://idp.example/auth?state=s1",
		Wait: func(context.Context) (string, error) {
			return "http://localhost:3000/oauth/callback?code=c1&state=s1", nil
		},
	}, nil
}

func (f *fakeProvider) CompleteInteractiveLogin(ctx context.Context, responseURL string) (*auth.TokenSet, error) {
	switch {
	case !strings.Contains(responseURL, "state=s1"):
		return nil, provider.NewError(provider.KindStateMismatch, "complete login", errors.New("state does not match"))
	case !strings.Contains(responseURL, "code="):
		return nil, provider.NewError(provider.KindInvalidResponse, "complete login", errors.New("no code"))
	}
	return f.tokenSet("access-login", time.Hour), nil
}

func (f *fakeProvider) Renew(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error) {
	f.mu.Lock()
	f.renewCalls++
	n := f.renewCalls
	fn := f.renew
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, current)
	}
	return f.tokenSet(fmt.Sprintf("access-renewed-%d", n), time.Hour), nil
}

func (f *fakeProvider) CanRenew(current *auth.TokenSet) bool {
	return current != nil && current.RefreshToken != ""
}

func (f *fakeProvider) DeriveUser(ts *auth.TokenSet, stored *auth.User) (*auth.User, error) {
	if ts != nil && ts.IDToken != "" {
		return &auth.User{Email: ts.IDToken, Scheme: auth.SchemeBearer}, nil
	}
	if stored != nil {
		return stored, nil
	}
	return nil, provider.NewError(provider.KindInvalidResponse, "derive user", errors.New("no identity"))
}

func (f *fakeProvider) Logout(ctx context.Context, ts *auth.TokenSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.loggedOut = append(f.loggedOut, ts)
	return f.logoutErr
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewCalls
}

func (f *fakeProvider) tokenSet(access string, ttl time.Duration) *auth.TokenSet {
	return &auth.TokenSet{
		AccessToken:  access,
		TokenType:    auth.SchemeBearer,
		IDToken:      "dev@example.com",
		RefreshToken: "refresh-" + access,
		ExpiresAt:    f.now().Add(ttl),
	}
}

type harness struct {
	clock    *clocktesting.FakeClock
	store    *tokenstore.Store
	provider *fakeProvider
	ctrl     *Controller
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	fc := clocktesting.NewFakeClock(epoch)
	store, err := tokenstore.New(tokenstore.Config{StorageDir: t.TempDir(), Key: "fake"})
	require.NoError(t, err)
	fp := &fakeProvider{now: fc.Now}

	cfg := Config{
		Provider:       fp,
		Store:          store,
		Clock:          fc,
		RenewalSkew:    time.Minute,
		RetryInterval:  10 * time.Second,
		RetryMax:       2 * time.Minute,
		NetworkTimeout: 5 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	ctrl, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	return &harness{clock: fc, store: store, provider: fp, ctrl: ctrl}
}

// loggedIn persists a session expiring after ttl and boots the controller.
func (h *harness) loggedIn(t *testing.T, ttl time.Duration) *auth.TokenSet {
	t.Helper()
	ts := h.provider.tokenSet("access-initial", ttl)
	require.NoError(t, h.store.Save(ts, &auth.User{Email: "dev@example.com"}))
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, LoggedIn, h.ctrl.State())
	return ts
}

// recorder collects the states subscribers were notified of.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
