package broker

import (
	"errors"
	"fmt"
	"time"
)

// ════════════════════════════════════════════════════════════════════
// Typed Broker Errors
// ════════════════════════════════════════════════════════════════════

// Kind classifies a broker failure. The executor's retry policies and the
// router's error reporting key off these values.
type Kind string

// Failure kinds.
const (
	KindConnection        Kind = "connection"
	KindAuthentication    Kind = "authentication"
	KindRateLimit         Kind = "rate_limit"
	KindOrderInvalid      Kind = "order_invalid"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindOrderRejected     Kind = "order_rejected"
	KindPosition          Kind = "position"
	KindRoutingNoBroker   Kind = "routing_no_broker"
	KindRoutingDuplicate  Kind = "routing_duplicate"
	KindUnknown           Kind = "unknown"
)

// Error is a classified broker failure. RetryAfter is only meaningful for
// KindRateLimit and carries the vendor's requested back-off when known.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a classified broker error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a classified broker error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRetryAfter attaches the vendor's requested back-off.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the failure kind from err, or KindUnknown when err carries
// no classification.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the vendor-requested back-off attached to err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var be *Error
	if errors.As(err, &be) && be.RetryAfter > 0 {
		return be.RetryAfter, true
	}
	return 0, false
}

// ════════════════════════════════════════════════════════════════════
// Common Errors
// ════════════════════════════════════════════════════════════════════

var (
	// ErrNotConnected is returned when the broker connection is not established.
	ErrNotConnected = fmt.Errorf("broker not connected")

	// ErrOrderNotFound is returned when an order ID doesn't exist.
	ErrOrderNotFound = fmt.Errorf("order not found")

	// ErrPositionNotFound is returned when no open position exists for a symbol.
	ErrPositionNotFound = fmt.Errorf("position not found")

	// ErrOrderNotOpen is returned when cancelling or replacing a terminal order.
	ErrOrderNotOpen = fmt.Errorf("order is not open")

	// ErrNoPrice is returned when no market price is available for a symbol.
	ErrNoPrice = fmt.Errorf("no market price available")

	// ErrNotSupported is returned for unimplemented broker features.
	ErrNotSupported = fmt.Errorf("operation not supported by this broker")
)
