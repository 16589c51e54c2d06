package relay

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a category from the error taxonomy in the core's design:
// each Kind has a fixed propagation rule (raised to the caller, fatal to the
// connection, or recovered locally).
type Kind string

const (
	KindFormat               Kind = "format"
	KindCouldNotConnect      Kind = "could_not_connect"
	KindDisconnected         Kind = "disconnected"
	KindInvalidDataLength    Kind = "invalid_data_length"
	KindUnregisteredPacket   Kind = "unregistered_packet_type"
	KindAuthentication       Kind = "authentication"
	KindNotConnected         Kind = "not_connected"
	KindRequestTimeout       Kind = "request_timeout"
	KindInvalidOperation     Kind = "invalid_operation"
	KindUnhandledServerError Kind = "unhandled_server_error"
)

// Error is the core's typed failure. Code carries the authentication error
// code when Kind == KindAuthentication; it is empty otherwise.
type Error struct {
	Kind  Kind
	Code  string
	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay: %s (%s)", e.Kind, e.Code)
	}
	if e.cause != nil {
		return fmt.Sprintf("relay: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("relay: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, cause: cause}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, cause: errors.Wrapf(cause, format, args...)}
}

// Sentinel instances for callers that compare with errors.Is and don't need
// a wrapped cause.
var (
	ErrDisconnected       = &Error{Kind: KindDisconnected}
	ErrInvalidDataLength  = &Error{Kind: KindInvalidDataLength}
	ErrUnregisteredPacket = &Error{Kind: KindUnregisteredPacket}
	ErrNotConnected       = &Error{Kind: KindNotConnected}
	ErrRequestTimeout     = &Error{Kind: KindRequestTimeout}
	ErrInvalidOperation   = &Error{Kind: KindInvalidOperation}
)

// Is lets errors.Is(err, ErrDisconnected) succeed for any *Error sharing the
// same Kind, since the core raises many distinct *Error values (each
// possibly wrapping a different cause) for the same taxonomy entry.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is (or wraps) a taxonomy *Error of kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// AuthenticationError builds the Authentication(code) taxonomy entry.
func AuthenticationError(code string) *Error {
	return &Error{Kind: KindAuthentication, Code: code}
}

// CouldNotConnectError wraps the last dial attempt's failure reason.
func CouldNotConnectError(cause error) *Error {
	return wrapErr(KindCouldNotConnect, cause, "could not connect")
}

// FormatError wraps a malformed RemoteAddress failure.
func FormatError(cause error) *Error {
	return wrapErr(KindFormat, cause, "malformed remote address")
}

// UnhandledServerErrorResponse is the taxonomy entry returned to the peer
// (as a Response.Status) when a request handler panics or returns an error.
const UnhandledServerErrorResponse = "UnhandledServerError"
