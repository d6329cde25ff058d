package core

import (
	"errors"
	"fmt"
)

// Error is a categorized failure raised by a call-path component.
type Error struct {
	Type    ErrorType `json:"type"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Err != nil && e.Message == "" {
		msg = fmt.Sprintf("%s%v", prefixOp(e.Op), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func prefixOp(op string) string {
	if op == "" {
		return ""
	}
	return op + ": "
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConnectivity covers failed dials and dropped sockets to speech, model
	// or telephony services.
	ErrConnectivity ErrorType = "connectivity_error"
	// ErrTimeout covers bounded operations that ran out of time.
	ErrTimeout ErrorType = "timeout_error"
	// ErrValidation covers missing or malformed inputs (tool arguments, records).
	ErrValidation ErrorType = "validation_error"
	// ErrDomainBlock covers business-rule refusals such as missing booking data.
	ErrDomainBlock ErrorType = "domain_block"
	// ErrProviderDecline covers a booking provider refusing a slot.
	ErrProviderDecline ErrorType = "provider_decline"
	// ErrAPI covers non-2xx responses from upstream HTTP APIs.
	ErrAPI ErrorType = "api_error"
	// ErrNotFound covers missing records.
	ErrNotFound ErrorType = "not_found_error"
)

// NewConnectivityError wraps a dial or socket failure.
func NewConnectivityError(op string, err error) *Error {
	return &Error{Type: ErrConnectivity, Op: op, Err: err}
}

// NewTimeoutError reports an operation that exceeded its bound.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Type: ErrTimeout, Op: op, Err: err}
}

// NewValidationError reports a missing or malformed input.
func NewValidationError(op, message string) *Error {
	return &Error{Type: ErrValidation, Op: op, Message: message}
}

// NewDomainBlock reports a refused domain action with a machine-readable reason.
func NewDomainBlock(op, reason string) *Error {
	return &Error{Type: ErrDomainBlock, Op: op, Message: reason, Code: reason}
}

// NewProviderDecline reports a booking provider refusal.
func NewProviderDecline(provider, reason string) *Error {
	return &Error{Type: ErrProviderDecline, Op: provider, Message: reason}
}

// NewAPIError reports an upstream HTTP failure.
func NewAPIError(op string, status int, message string) *Error {
	return &Error{Type: ErrAPI, Op: op, Message: message, Code: fmt.Sprintf("%d", status)}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// IsType reports whether err (or anything it wraps) is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsRetryable returns true if the error is worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnectivity, ErrTimeout, ErrAPI:
		return true
	default:
		return false
	}
}
