package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"happa/internal/config"
	"happa/internal/provider"
	"happa/internal/tokenstore"
	"happa/pkg/auth"
	"happa/pkg/logging"
)

const subsystem = "Session"

// Store is the persistence the controller writes through.
// *tokenstore.Store implements it.
type Store interface {
	Load() *tokenstore.Record
	Save(ts *auth.TokenSet, user *auth.User) error
	Clear() error
}

// Config configures a Controller.
type Config struct {
	Provider provider.Provider
	Store    Store

	// Clock drives the renewal timer. Defaults to the real clock.
	Clock clock.WithDelayedExecution

	// RenewalSkew is how long before expiry renewal starts.
	RenewalSkew time.Duration

	// RetryInterval is the first delay after a renewal failed with a
	// network error. It doubles on each further failure up to RetryMax.
	RetryInterval time.Duration
	RetryMax      time.Duration

	// NetworkTimeout bounds each provider call made by the controller.
	NetworkTimeout time.Duration
}

// Controller owns one session. It is safe for concurrent use.
type Controller struct {
	provider provider.Provider
	store    Store
	clock    clock.WithDelayedExecution

	skew           time.Duration
	retryInterval  time.Duration
	retryMax       time.Duration
	networkTimeout time.Duration

	renewals singleflight.Group

	mu          sync.Mutex
	state       State
	tokens      *auth.TokenSet
	user        *auth.User
	lastErr     error
	loginID     string
	renewalID   string
	timer       clock.Timer
	timerGen    uint64
	nextRenewal time.Time
	retryDelay  time.Duration
	closed      bool

	// subscriber delivery, guarded by mu
	listeners    []subscription
	nextListener int
	pending      []Snapshot
	delivering   bool
}

// New creates a controller in the LoggedOut state. Call Start to resume a
// persisted session.
func New(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.RenewalSkew <= 0 {
		cfg.RenewalSkew = config.DefaultRenewalSkew
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = config.DefaultRenewalRetryInterval
	}
	if cfg.RetryMax < cfg.RetryInterval {
		cfg.RetryMax = max(config.DefaultRenewalRetryMax, cfg.RetryInterval)
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = config.DefaultHTTPTimeout
	}

	return &Controller{
		provider:       cfg.Provider,
		store:          cfg.Store,
		clock:          cfg.Clock,
		skew:           cfg.RenewalSkew,
		retryInterval:  cfg.RetryInterval,
		retryMax:       cfg.RetryMax,
		networkTimeout: cfg.NetworkTimeout,
		state:          LoggedOut,
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every subsequent transition and returns a
// function that removes it.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners = append(c.listeners, subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(s subscription) bool {
			return s.id == id
		})
	}
}

type subscription struct {
	id int
	fn Listener
}

// AccessToken returns the current access token, or "" when there is no
// usable one. The token is never returned past its expiry.
func (c *Controller) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Authenticated() || !c.tokens.Valid() || c.tokens.IsExpired(c.clock.Now()) {
		return ""
	}
	return c.tokens.AccessToken
}

// Token returns a copy of the current token set for attaching to a request.
// When the token is past its renewal point it is renewed first; a renewal
// that fails with a network error still returns the old token while it has
// not expired.
func (c *Controller) Token(ctx context.Context) (*auth.TokenSet, error) {
	c.mu.Lock()
	state := c.state
	due := c.tokens.HasExpiry() && !c.clock.Now().Before(c.tokens.RenewalAt(c.skew))
	renewable := c.provider.CanRenew(c.tokens)
	c.mu.Unlock()

	switch state {
	case Expired:
		return nil, ErrSessionExpired
	case LoggedIn, Renewing:
	default:
		return nil, ErrNotLoggedIn
	}

	if due && renewable {
		if err := c.Renew(ctx); err != nil && !errors.Is(err, provider.ErrNetwork) {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Authenticated() || !c.tokens.Valid() {
		return nil, ErrNotLoggedIn
	}
	if c.tokens.IsExpired(c.clock.Now()) {
		if c.lastErr != nil {
			return nil, fmt.Errorf("access token expired: %w", c.lastErr)
		}
		return nil, errors.New("access token expired")
	}
	ts := *c.tokens
	return &ts, nil
}

// Renewable reports whether the current session can be renewed without
// user interaction.
func (c *Controller) Renewable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Authenticated() && c.provider.CanRenew(c.tokens)
}

// Start resumes the persisted session, if any. A valid record puts the
// controller in LoggedIn with the renewal timer armed. An expired record is
// renewed when the provider can do so and discarded otherwise. A missing or
// unreadable record leaves the controller LoggedOut.
func (c *Controller) Start(ctx context.Context) error {
	rec := c.store.Load()

	c.mu.Lock()
	if c.state != LoggedOut || rec == nil {
		c.mu.Unlock()
		return nil
	}

	ts := rec.TokenSet()
	user, err := c.provider.DeriveUser(ts, rec.User)
	if err != nil {
		logging.Warn(subsystem, "Discarding persisted session: %v", err)
		c.clearStoreLocked()
		c.lastErr = err
		c.publishLocked()
		c.mu.Unlock()
		c.flush()
		return nil
	}

	if !ts.IsExpired(c.clock.Now()) {
		c.tokens, c.user = ts, user
		c.state = LoggedIn
		c.scheduleLocked()
		logging.Info(subsystem, "Resumed %s session for %s", c.provider.Name(), user.Email)
		c.publishLocked()
		c.mu.Unlock()
		c.flush()
		return nil
	}

	if !c.provider.CanRenew(ts) {
		logging.Info(subsystem, "Persisted %s session has expired", c.provider.Name())
		c.clearStoreLocked()
		c.publishLocked()
		c.mu.Unlock()
		c.flush()
		return nil
	}

	c.tokens, c.user = ts, user
	c.state = Renewing
	c.publishLocked()
	c.mu.Unlock()
	c.flush()

	logging.Info(subsystem, "Persisted %s session has expired, renewing", c.provider.Name())
	return c.Renew(ctx)
}

// Login starts an interactive login. For redirect-based providers the
// returned LoginStart carries the URL to open and a Wait function whose
// result is passed to HandleProviderCallback; the controller stays in
// Authenticating. Credential-based providers complete here and the
// controller moves to LoggedIn.
//
// ctx bounds the whole login, including any local callback listener.
func (c *Controller) Login(ctx context.Context) (*provider.LoginStart, error) {
	c.mu.Lock()
	switch c.state {
	case LoggedIn, Renewing:
		c.mu.Unlock()
		return nil, ErrAlreadyLoggedIn
	case Expired:
		c.state = LoggedOut
		c.publishLocked()
	}

	id := uuid.NewString()
	c.loginID = id
	c.lastErr = nil
	c.state = Authenticating
	c.publishLocked()
	c.mu.Unlock()
	c.flush()

	start, err := c.provider.StartInteractiveLogin(ctx)

	c.mu.Lock()
	if c.state != Authenticating || c.loginID != id {
		c.mu.Unlock()
		return nil, ErrSessionChanged
	}
	if err != nil {
		c.failLoginLocked(err)
		c.mu.Unlock()
		c.flush()
		return nil, err
	}

	if start.TokenSet != nil {
		err = c.establishLocked(start.TokenSet, start.User)
		c.mu.Unlock()
		c.flush()
		if err != nil {
			return nil, err
		}
		return start, nil
	}

	c.mu.Unlock()
	return start, nil
}

// HandleProviderCallback completes a redirect-based login with the URL the
// provider redirected to. On failure the controller returns to LoggedOut
// and the error, an InvalidResponse or StateMismatch, is returned.
func (c *Controller) HandleProviderCallback(ctx context.Context, responseURL string) error {
	c.mu.Lock()
	if c.state != Authenticating {
		c.mu.Unlock()
		return provider.NewError(provider.KindInvalidResponse, "handle provider callback", ErrNoLoginInProgress)
	}
	id := c.loginID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.networkTimeout)
	defer cancel()
	ts, err := c.provider.CompleteInteractiveLogin(ctx, responseURL)

	c.mu.Lock()
	if c.state != Authenticating || c.loginID != id {
		c.mu.Unlock()
		return ErrSessionChanged
	}
	if err != nil {
		c.failLoginLocked(err)
		c.mu.Unlock()
		c.flush()
		return err
	}
	err = c.establishLocked(ts, nil)
	c.mu.Unlock()
	c.flush()
	return err
}

// Logout ends the session in any state. The store is cleared and
// subscribers see LoggedOut before the provider is asked to revoke the
// tokens; revocation failures are logged and never returned.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	ts := c.tokens
	email := ""
	if c.user != nil {
		email = c.user.Email
	}
	c.stopTimerLocked()
	c.loginID = ""
	c.renewalID = ""
	c.retryDelay = 0
	err := c.store.Clear()
	c.tokens, c.user = nil, nil
	c.lastErr = nil
	c.state = LoggedOut
	c.publishLocked()
	c.mu.Unlock()
	c.flush()

	logging.Audit("logout", "provider", c.provider.Name(), "email", email)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.networkTimeout)
	defer cancel()
	if rerr := c.provider.Logout(rctx, ts); rerr != nil {
		logging.Warn(subsystem, "Token revocation failed, tokens will expire on their own: %v", rerr)
	}

	if err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	return nil
}

// Renew renews the session now. Calls made while a renewal is in flight
// wait for it instead of starting another. Cancelling ctx stops waiting but
// does not abort the renewal.
func (c *Controller) Renew(ctx context.Context) error {
	ch := c.renewals.DoChan("renew", func() (any, error) {
		return nil, c.renew()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) renew() error {
	c.mu.Lock()
	if !c.state.Authenticated() {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	current := c.tokens
	id := uuid.NewString()
	c.renewalID = id
	c.stopTimerLocked()
	if c.state != Renewing {
		c.state = Renewing
		c.publishLocked()
	}
	c.mu.Unlock()
	c.flush()

	logging.Debug(subsystem, "Renewing %s session (request %s)", c.provider.Name(), id)

	ctx, cancel := context.WithTimeout(context.Background(), c.networkTimeout)
	fresh, err := c.provider.Renew(ctx, current)
	cancel()
	if err == nil && !fresh.Valid() {
		err = provider.NewError(provider.KindInvalidResponse, "renew", errors.New("provider returned no access token"))
	}

	c.mu.Lock()
	defer c.flush()
	defer c.mu.Unlock()

	if c.state != Renewing || c.renewalID != id {
		logging.Info(subsystem, "Discarding renewal result: session changed while renewing")
		return ErrSessionChanged
	}
	c.renewalID = ""

	if err != nil {
		err = provider.ClassifyTransport("renew", err, provider.KindRenewalFailed)
		if provider.KindOf(err) == provider.KindNetworkError {
			c.lastErr = err
			c.state = LoggedIn
			c.scheduleRetryLocked()
			logging.Warn(subsystem, "Renewal failed, retrying in %s: %v", c.retryDelay, err)
			c.publishLocked()
			return err
		}

		logging.Error(subsystem, err, "Renewal refused, session expired")
		c.expireLocked(err)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	user, derr := c.provider.DeriveUser(fresh, c.user)
	if derr != nil {
		logging.Warn(subsystem, "Keeping previous identity, renewed token carries none: %v", derr)
		user = c.user
	}

	// The provider may already have rotated the refresh token, so the renewed
	// set is adopted even if it cannot be persisted.
	if serr := c.store.Save(fresh, user); serr != nil {
		logging.Error(subsystem, serr, "Failed to persist renewed session")
		c.lastErr = serr
	} else {
		c.lastErr = nil
	}

	c.tokens, c.user = fresh, user
	c.retryDelay = 0
	c.state = LoggedIn
	c.scheduleLocked()
	logging.Audit("token_renewed", "provider", c.provider.Name(), "expires_at", fresh.ExpiresAt.UTC().Format(time.RFC3339))
	c.publishLocked()
	return nil
}

// HandleUnauthorized reacts to the API rejecting rejectedToken with a 401.
// If the session has moved on to another token there is nothing to do.
// Otherwise one renewal is attempted; if that fails for any reason the
// session is expired.
func (c *Controller) HandleUnauthorized(ctx context.Context, rejectedToken string) error {
	c.mu.Lock()
	if !c.state.Authenticated() {
		state := c.state
		c.mu.Unlock()
		if state == Expired {
			return ErrSessionExpired
		}
		return ErrNotLoggedIn
	}
	if c.tokens.AccessToken != rejectedToken {
		c.mu.Unlock()
		return nil
	}
	renewable := c.provider.CanRenew(c.tokens)
	c.mu.Unlock()

	var err error
	if renewable {
		err = c.Renew(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionChanged) || errors.Is(err, ErrSessionExpired) || ctx.Err() != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.flush()
	defer c.mu.Unlock()
	if !c.state.Authenticated() || c.tokens.AccessToken != rejectedToken {
		return err
	}
	cause := ErrUnauthorized
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	logging.Warn(subsystem, "API rejected the session token, expiring session")
	c.expireLocked(cause)
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}

// Resync re-reads the store and adopts changes made by another process:
// a login or renewal there replaces the session here, a logout there logs
// out here. It never writes to the store.
func (c *Controller) Resync() {
	rec := c.store.Load()

	c.mu.Lock()
	defer c.flush()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if rec == nil {
		if c.state.Authenticated() {
			logging.Info(subsystem, "Session was removed by another process")
			c.stopTimerLocked()
			c.renewalID = ""
			c.tokens, c.user = nil, nil
			c.state = LoggedOut
			c.publishLocked()
		}
		return
	}

	if c.tokens != nil && c.tokens.AccessToken == rec.AccessToken {
		return
	}

	ts := rec.TokenSet()
	if ts.IsExpired(c.clock.Now()) {
		return
	}
	user, err := c.provider.DeriveUser(ts, rec.User)
	if err != nil {
		logging.Warn(subsystem, "Ignoring session written by another process: %v", err)
		return
	}

	logging.Info(subsystem, "Adopting session written by another process")
	c.loginID = ""
	c.renewalID = ""
	c.retryDelay = 0
	c.lastErr = nil
	c.tokens, c.user = ts, user
	c.state = LoggedIn
	c.scheduleLocked()
	c.publishLocked()
}

// Close stops the renewal timer. The session itself is left as is.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
}

func (c *Controller) establishLocked(ts *auth.TokenSet, user *auth.User) error {
	if user == nil {
		u, err := c.provider.DeriveUser(ts, nil)
		if err != nil {
			c.failLoginLocked(err)
			return err
		}
		user = u
	}

	if err := c.store.Save(ts, user); err != nil {
		c.failLoginLocked(err)
		return err
	}

	c.loginID = ""
	c.lastErr = nil
	c.retryDelay = 0
	c.tokens, c.user = ts, user
	c.state = LoggedIn
	c.scheduleLocked()
	logging.Audit("login", "provider", c.provider.Name(), "email", user.Email)
	c.publishLocked()
	return nil
}

func (c *Controller) failLoginLocked(err error) {
	logging.Warn(subsystem, "Login failed: %v", err)
	c.loginID = ""
	c.lastErr = err
	c.state = LoggedOut
	c.publishLocked()
}

func (c *Controller) expireLocked(err error) {
	c.stopTimerLocked()
	c.renewalID = ""
	c.clearStoreLocked()
	c.tokens, c.user = nil, nil
	c.lastErr = err
	c.state = Expired
	logging.Audit("session_expired", "provider", c.provider.Name())
	c.publishLocked()
}

func (c *Controller) clearStoreLocked() {
	if err := c.store.Clear(); err != nil {
		logging.Error(subsystem, err, "Failed to clear stored session")
	}
}

// scheduleLocked arms the renewal timer for the current token set.
func (c *Controller) scheduleLocked() {
	c.stopTimerLocked()
	if !c.tokens.HasExpiry() {
		return
	}
	c.armLocked(c.tokens.RenewalAt(c.skew))
}

func (c *Controller) scheduleRetryLocked() {
	if c.retryDelay == 0 {
		c.retryDelay = c.retryInterval
	} else {
		c.retryDelay = min(2*c.retryDelay, c.retryMax)
	}
	c.armLocked(c.clock.Now().Add(c.retryDelay))
}

func (c *Controller) armLocked(at time.Time) {
	c.stopTimerLocked()
	if c.closed {
		return
	}
	c.timerGen++
	gen := c.timerGen
	c.nextRenewal = at
	delay := max(at.Sub(c.clock.Now()), 0)
	// The callback may run with clock internals locked.
	c.timer = c.clock.AfterFunc(delay, func() { go c.onTimer(gen) })
	logging.Debug(subsystem, "Renewal scheduled at %s", at.Format(time.RFC3339))
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.nextRenewal = time.Time{}
}

func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen || c.state != LoggedIn {
		c.mu.Unlock()
		return
	}
	// Never renew before the scheduled instant, even if the timer fired early.
	if now := c.clock.Now(); now.Before(c.nextRenewal) {
		c.armLocked(c.nextRenewal)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Renew(context.Background()); err != nil {
		logging.Debug(subsystem, "Scheduled renewal did not succeed: %v", err)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       c.state,
		Provider:    c.provider.Name(),
		NextRenewal: c.nextRenewal,
		LastError:   c.lastErr,
	}
	if c.tokens != nil {
		snap.ExpiresAt = c.tokens.ExpiresAt
	}
	if c.user != nil && c.state.Authenticated() {
		u := *c.user
		snap.User = &u
	}
	return snap
}

func (c *Controller) publishLocked() {
	c.pending = append(c.pending, c.snapshotLocked())
}

// flush delivers pending snapshots in order. Only one goroutine delivers at
// a time; snapshots queued meanwhile are picked up by it. Must be called
// without mu held.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()

		for _, snap := range batch {
			for _, l := range listeners {
				l.fn(snap)
			}
		}

		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}
