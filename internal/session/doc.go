// Package session owns the authenticated-session lifecycle.
//
// A Controller drives one provider.Provider through the states LoggedOut,
// Authenticating, LoggedIn, Renewing and Expired. It is the only component
// that changes session state: providers and the token store report typed
// errors, the controller classifies them and decides the transition.
//
// Renewal is scheduled with a single timer armed at the token's expiry minus
// the configured skew. Concurrent renewal requests (timer, API middleware,
// explicit refresh) share one provider call. A renewal whose result arrives
// after the session changed underneath it, for example because the user
// logged out, is discarded.
//
// Every transition that changes the token set is written to the token store
// before subscribers are notified.
package session
