package session

import "errors"

var (
	// ErrNotLoggedIn is returned by operations that need a session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrAlreadyLoggedIn is returned by Login while a session exists.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrNoLoginInProgress is returned for a provider callback that does not
	// belong to a login started by this controller.
	ErrNoLoginInProgress = errors.New("no login in progress")

	// ErrSessionChanged is returned when the session was logged out or
	// replaced while an operation was waiting on the provider. The
	// operation's result was discarded.
	ErrSessionChanged = errors.New("session changed while the operation was in flight")

	// ErrSessionExpired is returned when the provider refused renewal and the
	// session was expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized is recorded when the API keeps rejecting the session's
	// token after a renewal attempt.
	ErrUnauthorized = errors.New("access token rejected by the API")
)
