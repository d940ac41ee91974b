package apiclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"happa/pkg/auth"
	"happa/pkg/logging"
)

// Session is the part of the session controller the middleware needs.
type Session interface {
	Token(ctx context.Context) (*auth.TokenSet, error)
	HandleUnauthorized(ctx context.Context, rejectedToken string) error
}

// Transport authenticates requests with the session's current token.
type Transport struct {
	Base    http.RoundTripper
	Session Session
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, sess Session) *Transport {
	return &Transport{Base: base, Session: sess}
}

// NewHTTPClient returns a client that authenticates every request.
func NewHTTPClient(sess Session, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(nil, sess),
		Timeout:   timeout,
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper. A request rejected with 401 is
// retried once after the session handled the rejection, provided its body
// can be replayed. Otherwise the 401 response is returned as is.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	ts, err := t.Session.Token(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, ts))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	logging.Debug("APIClient", "%s %s rejected with 401, handing to session", req.Method, req.URL.Redacted())
	if herr := t.Session.HandleUnauthorized(ctx, ts.AccessToken); herr != nil {
		logging.Debug("APIClient", "Session could not recover from 401: %v", herr)
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}

	ts, err = t.Session.Token(ctx)
	if err != nil {
		return resp, nil
	}
	drain(resp)

	return t.base().RoundTrip(authorize(retry, ts))
}

func authorize(req *http.Request, ts *auth.TokenSet) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", ts.AuthorizationHeader())
	return out
}

// rewind returns a copy of req with a fresh body, or false when the body
// was consumed and cannot be recreated.
func rewind(req *http.Request) (*http.Request, bool) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	out.Body = body
	return out, true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
