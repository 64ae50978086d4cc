// Package fault defines the classified error type every pipeline failure
// is surfaced as. No raw transport or parser error crosses the library
// boundary; callers only ever see a code, a human-readable message and an
// HTTP status mirror.
package fault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Code identifies one failure class.
type Code string

const (
	MissingParameters     Code = "missing_parameters"
	ScriptUnavailable     Code = "script_unavailable"
	IncompleteCredentials Code = "incomplete_credentials"
	TransportTimeout      Code = "transport_timeout"
	TransportRefused      Code = "transport_refused"
	TransportUnreachable  Code = "transport_unreachable"
	TlsFailure            Code = "tls_failure"
	DnsFailure            Code = "dns_failure"
	UpstreamRateLimited   Code = "upstream_rate_limited"
	UpstreamForbidden     Code = "upstream_forbidden"
	UpstreamNotFound      Code = "upstream_not_found"
	UpstreamServerError   Code = "upstream_server_error"
	UnrecognizedPage      Code = "unrecognized_page"
	EmptyResult           Code = "empty_result"
)

// Error is the one error shape surfaced to callers. StatusCode mirrors an
// upstream HTTP status when one is known and is zero otherwise.
type Error struct {
	Wrapped    error
	Code       Code
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is match two faults by code alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New builds a fault with no upstream status.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStatus builds a fault mirroring an upstream HTTP status.
func WithStatus(code Code, status int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), StatusCode: status}
}

// Wrap keeps the underlying error reachable through errors.Unwrap while
// presenting the classified message.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// Sentinel matches the given code in errors.Is checks.
func Sentinel(code Code) *Error {
	return &Error{Code: code, Message: string(code)}
}

// FromStatus classifies a non-success upstream HTTP status.
func FromStatus(status int) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return WithStatus(UpstreamRateLimited, status, "upstream rate limited the request")
	case status == http.StatusForbidden:
		return WithStatus(UpstreamForbidden, status, "upstream refused the request")
	case status == http.StatusNotFound:
		return WithStatus(UpstreamNotFound, status, "upstream has no such page")
	case status >= 500:
		return WithStatus(UpstreamServerError, status, "upstream server error")
	default:
		return WithStatus(UnrecognizedPage, status, "upstream answered with unexpected status %d", status)
	}
}

// FromTransport reclassifies a transport-level error from net/http into
// the taxonomy. The mapping is deliberately coarse: callers react to the
// class, not to the precise syscall.
func FromTransport(err error) *Error {
	var (
		netErr    net.Error
		dnsErr    *net.DNSError
		certErr   *tls.CertificateVerificationError
		recordErr tls.RecordHeaderError
		opErr     *net.OpError
	)

	switch {
	case errors.As(err, &dnsErr):
		return Wrap(DnsFailure, err, "can't resolve upstream host: %v", dnsErr)
	case errors.As(err, &certErr):
		return Wrap(TlsFailure, err, "upstream TLS certificate rejected: %v", certErr)
	case errors.As(err, &recordErr):
		return Wrap(TlsFailure, err, "TLS handshake with upstream failed")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(TransportTimeout, err, "request to upstream timed out")
	case errors.As(err, &netErr) && netErr.Timeout():
		return Wrap(TransportTimeout, err, "request to upstream timed out")
	case errors.Is(err, syscall.ECONNREFUSED):
		return Wrap(TransportRefused, err, "upstream refused the connection")
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return Wrap(TransportUnreachable, err, "upstream is unreachable")
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return Wrap(TransportUnreachable, err, "can't reach upstream: %v", opErr.Err)
	default:
		return Wrap(TransportUnreachable, err, "request to upstream failed: %v", err)
	}
}
