package provider

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("renew: %w", NewError(KindRenewalFailed, "refresh", errors.New("invalid_grant")))

	assert.True(t, errors.Is(err, ErrRenewalFailed))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, KindRenewalFailed, KindOf(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsNetworkFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"url error", &url.Error{Op: "Post", URL: "https://dex", Err: io.EOF}, true},
		{"url refused", &url.Error{Op: "Post", URL: "https://dex", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}}, true},
		{"url unknown authority", &url.Error{Op: "Post", URL: "https://dex", Err: &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}}, false},
		{"url hostname", &url.Error{Op: "Post", URL: "https://dex", Err: x509.HostnameError{Certificate: &x509.Certificate{}, Host: "dex"}}, false},
		{"url scheme", &url.Error{Op: "Post", URL: "dex.example.com", Err: errors.New(`unsupported protocol scheme ""`)}, false},
		{"url opaque", &url.Error{Op: "Post", URL: "https://dex", Err: errors.New("stopped after 10 redirects")}, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "dex"}, true},
		{"refused text", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), true},
		{"protocol", errors.New("invalid_grant"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkFailure(tt.err))
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.NoError(t, ClassifyTransport("op", nil, KindRenewalFailed))

	err := ClassifyTransport("refresh", context.DeadlineExceeded, KindRenewalFailed)
	assert.ErrorIs(t, err, ErrNetwork)

	err = ClassifyTransport("refresh", errors.New("bad"), KindRenewalFailed)
	assert.ErrorIs(t, err, ErrRenewalFailed)

	err = ClassifyTransport("refresh", &url.Error{Op: "Post", URL: "https://dex/token", Err: x509.UnknownAuthorityError{}}, KindRenewalFailed)
	assert.ErrorIs(t, err, ErrRenewalFailed)
	assert.NotErrorIs(t, err, ErrNetwork)

	err = ClassifyTransport("discover", &url.Error{Op: "Get", URL: "dex/.well-known", Err: errors.New(`unsupported protocol scheme ""`)}, KindInvalidResponse)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	err = ClassifyTransport("refresh", &url.Error{Op: "Post", URL: "https://dex/token", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}}, KindRenewalFailed)
	assert.ErrorIs(t, err, ErrNetwork)

	already := NewError(KindStateMismatch, "callback", nil)
	assert.Same(t, already, ClassifyTransport("x", already, KindInvalidResponse))
}
