package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"

	"happa/internal/provider"
	"happa/internal/provider/legacy"
	"happa/internal/session"
)

// Exit codes returned by the happa binary.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitAuthRequired = 2
	ExitAuthFailed   = 3
)

// AuthRequiredError indicates there is no session for the provider.
type AuthRequiredError struct {
	Provider string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Not logged in to %s

To authenticate, run:
  happa auth login --provider %s

To check current authentication status:
  happa auth status`, e.Provider, e.Provider)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError indicates the provider refused to renew the session.
type AuthExpiredError struct {
	Provider string
	Reason   error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf(`Your %s session has expired

To re-authenticate, run:
  happa auth login --provider %s`, e.Provider, e.Provider)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError indicates a login attempt failed.
type AuthFailedError struct {
	Provider string
	Reason   error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`%s

To retry authentication, run:
  happa auth login --provider %s`, UserMessage(e.Reason), e.Provider)
}

func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, &AuthRequiredError{}), errors.Is(err, &AuthExpiredError{}):
		return ExitAuthRequired
	case errors.Is(err, &AuthFailedError{}):
		return ExitAuthFailed
	default:
		return ExitError
	}
}

// UserMessage renders err as the one message shown for its failure class.
// Details stay in the debug log.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, legacy.ErrInvalidCredentials):
		return "Incorrect email or password."
	case errors.Is(err, provider.ErrStateMismatch):
		return "The login response did not match the login that was started. Please log in again."
	case errors.Is(err, provider.ErrInvalidResponse):
		return "The identity provider returned an invalid response. Please log in again."
	case errors.Is(err, session.ErrUnauthorized):
		return "Please log in again, as your previously saved credentials appear to be invalid."
	case errors.Is(err, provider.ErrRenewalFailed), errors.Is(err, session.ErrSessionExpired):
		return "Your session has expired. Please log in again."
	case errors.Is(err, provider.ErrNetwork):
		return "Could not reach the identity provider: " + ClassifyConnectionError(err).Type.String() + ". Please check your connection and try again."
	case errors.Is(err, provider.ErrStorage):
		return "Stored credentials could not be read or written. Please log in again."
	case errors.Is(err, session.ErrNotLoggedIn):
		return "You are not logged in."
	default:
		return err.Error()
	}
}

// ConnectionErrorType categorizes a network failure for display.
type ConnectionErrorType int

const (
	ConnectionErrorUnknown ConnectionErrorType = iota
	ConnectionErrorTLS
	ConnectionErrorNetwork
	ConnectionErrorTimeout
	ConnectionErrorDNS
)

func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "network unreachable"
	case ConnectionErrorTimeout:
		return "connection timed out"
	case ConnectionErrorDNS:
		return "DNS resolution failed"
	default:
		return "connection error"
	}
}

// ConnectionError is a categorized network failure.
type ConnectionError struct {
	Type   ConnectionErrorType
	Reason error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError categorizes err. It returns nil for nil.
func ClassifyConnectionError(err error) *ConnectionError {
	if err == nil {
		return nil
	}

	ce := &ConnectionError{Type: ConnectionErrorUnknown, Reason: err}

	var (
		unknownAuthErr *x509.UnknownAuthorityError
		hostErr        *x509.HostnameError
		certErr        *x509.CertificateInvalidError
		dnsErr         *net.DNSError
		netErr         net.Error
	)
	msg := err.Error()
	switch {
	case errors.As(err, &unknownAuthErr), errors.As(err, &hostErr), errors.As(err, &certErr),
		strings.Contains(msg, "x509:"), strings.Contains(msg, "tls:"):
		ce.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		ce.Type = ConnectionErrorDNS
	case errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		ce.Type = ConnectionErrorTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		ce.Type = ConnectionErrorNetwork
	}
	return ce
}
