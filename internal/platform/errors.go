// Package platform defines the boundary between the adapter core and the
// upstream platform SDKs: the driver interface, the edge DTOs the core
// consumes, and the error taxonomy surfaced on request failures.
package platform

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure for acknowledgement payloads, monitoring,
// and retry decisions.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates an outgoing event failed validation.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeUnsupported indicates the platform does not support the operation.
	ErrCodeUnsupported ErrorCode = "unsupported"

	// ErrCodeUnknownEmoji indicates an emoji not representable upstream.
	ErrCodeUnknownEmoji ErrorCode = "unknown_emoji"

	// ErrCodeNotFound indicates a conversation, channel, or message that could
	// not be resolved upstream.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeRateLimited indicates the upstream returned a 429-like signal.
	ErrCodeRateLimited ErrorCode = "rate_limited_upstream"

	// ErrCodeTransient indicates timeouts and connection resets.
	ErrCodeTransient ErrorCode = "transient_network"

	// ErrCodeIO indicates a local disk or subprocess failure.
	ErrCodeIO ErrorCode = "io_error"

	// ErrCodeInternal indicates an uncaught handler failure.
	ErrCodeInternal ErrorCode = "internal"
)

// Error is a structured error carrying a taxonomy code alongside the
// underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on retry.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeTransient:
		return true
	default:
		return false
	}
}

// NewError creates an Error with the given code.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string, err error) *Error {
	return NewError(ErrCodeInvalidRequest, message, err)
}

// ErrUnsupported creates an unsupported-operation error.
func ErrUnsupported(message string) *Error {
	return NewError(ErrCodeUnsupported, message, nil)
}

// ErrUnknownEmoji creates an unknown_emoji error.
func ErrUnknownEmoji(emoji string) *Error {
	return NewError(ErrCodeUnknownEmoji, fmt.Sprintf("emoji %q has no upstream representation", emoji), nil)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(message string, err error) *Error {
	return NewError(ErrCodeNotFound, message, err)
}

// ErrRateLimited creates a rate_limited_upstream error.
func ErrRateLimited(message string, err error) *Error {
	return NewError(ErrCodeRateLimited, message, err)
}

// ErrTransient creates a transient_network error.
func ErrTransient(message string, err error) *Error {
	return NewError(ErrCodeTransient, message, err)
}

// ErrIO creates an io_error error.
func ErrIO(message string, err error) *Error {
	return NewError(ErrCodeIO, message, err)
}

// ErrInternal creates an internal error.
func ErrInternal(message string, err error) *Error {
	return NewError(ErrCodeInternal, message, err)
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// internal for unclassified errors.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}

// Retryable reports whether an error chain represents a transient failure.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
