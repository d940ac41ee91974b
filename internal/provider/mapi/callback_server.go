package mapi

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// CallbackTimeout is how long the redirect listener waits for the browser.
const CallbackTimeout = 10 * time.Minute

// ErrCallbackStopped is returned by Wait when the listener shut down before
// the browser came back.
var ErrCallbackStopped = errors.New("login callback listener stopped")

const callbackPath = "/oauth/callback"

var callbackPage = template.Must(template.New("callback").Funcs(sprig.HtmlFuncMap()).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>happa | {{ if .Error }}Login failed{{ else }}Logged in{{ end }}</title>
<style>
body { font-family: sans-serif; background: #1b2b3a; color: #e6ecf0; text-align: center; padding-top: 15vh; }
.error { color: #ff8a80; }
code { background: #26394b; padding: 0.2em 0.4em; }
</style>
</head>
<body>
{{- if .Error }}
<h1 class="error">Login failed</h1>
<p><code>{{ .Error }}</code></p>
<p>{{ .Description | default "The identity provider did not give a reason." | trunc 300 }}</p>
<p>Return to your terminal and run <code>happa auth login</code> again.</p>
{{- else }}
<h1>You are logged in</h1>
<p>You can close this tab and return to your terminal.</p>
{{- end }}
</body>
</html>
`))

// callbackHeaders lock the result page down; it only ever shows static text.
var callbackHeaders = map[string]string{
	"Content-Type":            "text/html; charset=utf-8",
	"Content-Security-Policy": "default-src 'none'; style-src 'unsafe-inline'",
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
}

type callbackResult struct {
	url string
	err error
}

// CallbackServer is a short-lived loopback listener that receives the
// provider's redirect exactly once.
type CallbackServer struct {
	port     int
	baseURL  string
	srv      *http.Server
	result   chan callbackResult
	received atomic.Bool
	stopped  sync.Once
}

// NewCallbackServer creates a callback server. Port 0 picks a free port.
func NewCallbackServer(port int) *CallbackServer {
	return &CallbackServer{
		port:   port,
		result: make(chan callbackResult, 1),
	}
}

// Start listens on 127.0.0.1 and returns the redirect URI to register with
// the authorization request. The server stops when ctx ends, and a pending
// Wait then fails with ctx's error.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return "", fmt.Errorf("failed to listen for the login callback on port %d: %w", s.port, err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.baseURL = "http://localhost:" + strconv.Itoa(s.port)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.serveCallback)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(callbackResult{err: err})
		}
	}()
	context.AfterFunc(ctx, func() {
		if !s.received.Load() {
			s.deliver(callbackResult{err: fmt.Errorf("no login callback received: %w", context.Cause(ctx))})
		}
		s.Stop()
	})

	return s.RedirectURI(), nil
}

// Wait blocks until the redirect arrives and returns it as an absolute URL.
// It also returns once the listener has stopped, whichever ctx ends first.
func (s *CallbackServer) Wait(ctx context.Context) (string, error) {
	select {
	case r := <-s.result:
		return r.url, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallbackServer) deliver(r callbackResult) {
	select {
	case s.result <- r:
	default:
	}
}

func (s *CallbackServer) serveCallback(w http.ResponseWriter, r *http.Request) {
	if !s.received.CompareAndSwap(false, true) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	for k, v := range callbackHeaders {
		w.Header().Set(k, v)
	}
	q := r.URL.Query()
	page := map[string]string{"Error": q.Get("error"), "Description": q.Get("error_description")}
	if err := callbackPage.Execute(w, page); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	s.deliver(callbackResult{url: s.baseURL + r.URL.RequestURI()})

	// The browser still has to receive the page.
	time.AfterFunc(time.Second, s.Stop)
}

// Stop shuts the server down. Safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopped.Do(func() {
		if !s.received.Load() {
			s.deliver(callbackResult{err: ErrCallbackStopped})
		}
		if s.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	})
}

// RedirectURI is the URL the provider must redirect to.
func (s *CallbackServer) RedirectURI() string {
	return s.baseURL + callbackPath
}
