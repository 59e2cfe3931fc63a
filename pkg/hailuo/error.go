package hailuo

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure for retry decisions.
type Kind int

const (
	// KindAuth means the credential or device identity was rejected.
	// Never retried.
	KindAuth Kind = iota + 1

	// KindTransport means the connection or stream could not be opened,
	// or died mid-flight. Retried up to the caller's budget.
	KindTransport

	// KindProtocol means the upstream sent a payload we could not parse.
	// Retried in buffered mode, degraded to end-of-stream in incremental mode.
	KindProtocol

	// KindUpstream is an API-level error reported by the upstream
	// (non-zero status code in the response envelope).
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error represents a Hailuo API error.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// StatusCode is the API error code from the response envelope.
	StatusCode int

	// StatusMsg is the error message.
	StatusMsg string

	// HTTPStatus is the HTTP status code, when the error came from an
	// HTTP response.
	HTTPStatus int

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hailuo: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hailuo: %s: %s (code=%d, http=%d)", e.Kind, e.StatusMsg, e.StatusCode, e.HTTPStatus)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuth returns true if the credential or device identity was rejected.
func (e *Error) IsAuth() bool {
	return e.Kind == KindAuth || e.HTTPStatus == 401 || e.HTTPStatus == 403
}

// Retryable returns true if the request can be retried.
func (e *Error) Retryable() bool {
	if e.IsAuth() {
		return false
	}
	return e.Kind == KindTransport || e.Kind == KindProtocol || e.HTTPStatus >= 500
}

// AsError extracts *Error from an error.
//
// Example:
//
//	if e, ok := hailuo.AsError(err); ok && e.Retryable() {
//	    // retry
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// transportErr wraps err as a transport-level failure.
func transportErr(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// protocolErr wraps err as a protocol-level failure.
func protocolErr(err error) *Error {
	return &Error{Kind: KindProtocol, Err: err}
}
