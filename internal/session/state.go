package session

import (
	"time"

	"happa/pkg/auth"
)

// State is the session lifecycle state.
type State int

const (
	// LoggedOut means there is no session. This is the initial state.
	LoggedOut State = iota

	// Authenticating means an interactive login was started and the provider
	// has not answered yet.
	Authenticating

	// LoggedIn means a usable token set is held.
	LoggedIn

	// Renewing means a silent renewal is in flight. The previous token set
	// stays usable until it expires.
	Renewing

	// Expired means renewal was refused and the user has to log in again.
	Expired
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case LoggedOut:
		return "LoggedOut"
	case Authenticating:
		return "Authenticating"
	case LoggedIn:
		return "LoggedIn"
	case Renewing:
		return "Renewing"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Authenticated reports whether requests can be made in this state.
func (s State) Authenticated() bool {
	return s == LoggedIn || s == Renewing
}

// Snapshot is a point-in-time copy of the session, handed to subscribers.
// It never contains token material.
type Snapshot struct {
	State State

	// Provider is the name of the provider driving the session.
	Provider string

	// User is set only while LoggedIn or Renewing.
	User *auth.User

	// ExpiresAt is the expiry of the current token set, zero if it has none.
	ExpiresAt time.Time

	// NextRenewal is when the renewal timer fires, zero when none is armed.
	NextRenewal time.Time

	// LastError is the failure behind the most recent transition, if any.
	LastError error
}

// Listener receives a Snapshot after every transition. Snapshots arrive in
// transition order and listeners are called in subscription order. Delivery
// happens outside the controller lock on whichever goroutine is draining the
// queue, which is not necessarily the one that caused the transition.
// Listeners must not block.
type Listener func(Snapshot)
