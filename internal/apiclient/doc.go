// Package apiclient attaches the session to outgoing API requests.
//
// Transport is an http.RoundTripper middleware: it asks the session for a
// token before every request, sets the Authorization header, and on a 401
// lets the session renew once before retrying. Nothing here keeps a copy of
// the token between requests.
//
// RESTConfig wires the same middleware into a client-go rest.Config for the
// Management API, including any impersonation settings.
package apiclient
