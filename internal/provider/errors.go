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
	"strings"
)

// Kind classifies provider and storage failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidResponse: the provider answered with something unusable
	// (error parameter, missing code, bad signature, nonce mismatch).
	KindInvalidResponse
	// KindStateMismatch: the redirect does not belong to the login we started.
	KindStateMismatch
	// KindRenewalFailed: the provider refused to renew; a new login is needed.
	KindRenewalFailed
	// KindNetworkError: the provider could not be reached in time. Retryable.
	KindNetworkError
	// KindStorageError: the token store could not be read or written.
	KindStorageError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidResponse:
		return "InvalidResponse"
	case KindStateMismatch:
		return "StateMismatch"
	case KindRenewalFailed:
		return "RenewalFailed"
	case KindNetworkError:
		return "NetworkError"
	case KindStorageError:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNetwork) works
// regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidResponse = &Error{Kind: KindInvalidResponse}
	ErrStateMismatch   = &Error{Kind: KindStateMismatch}
	ErrRenewalFailed   = &Error{Kind: KindRenewalFailed}
	ErrNetwork         = &Error{Kind: KindNetworkError}
	ErrStorage         = &Error{Kind: KindStorageError}
)

// NewError wraps err with a kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsNetworkFailure reports whether err is a transport-level failure: timeout,
// refused connection, DNS failure, or a cancelled deadline. Certificate and
// URL scheme failures are configuration problems and never count.
func IsNetworkFailure(err error) bool {
	if err == nil || IsConfigurationFailure(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// *url.Error satisfies net.Error, so it has to be looked at first.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() || errors.Is(urlErr.Err, context.Canceled) ||
			errors.Is(urlErr.Err, io.EOF) || errors.Is(urlErr.Err, io.ErrUnexpectedEOF) {
			return true
		}
		return IsNetworkFailure(urlErr.Err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// IsConfigurationFailure reports whether err comes from a server the client
// cannot trust or a URL it cannot dial. Retrying does not help with either.
func IsConfigurationFailure(err error) bool {
	if err == nil {
		return false
	}

	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &invalidCert) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var headerErr tls.RecordHeaderError
	if errors.As(err, &headerErr) {
		return true
	}

	return strings.Contains(err.Error(), "unsupported protocol scheme")
}

// ClassifyTransport returns a NetworkError for transport failures and
// fallback otherwise. Already classified errors pass through unchanged.
func ClassifyTransport(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	if IsNetworkFailure(err) {
		return NewError(KindNetworkError, op, err)
	}
	return NewError(fallback, op, err)
}
