// Package errors provides coded errors shared across the trading core.
//
// Codes are grouped by range:
//   - General (1-99)
//   - Validation (100-199): malformed orders, parameters or configuration
//   - Data (200-299): missing records or market data
//   - Exchange (300-399): connectivity and venue request failures
//   - Trading (500-599): order execution and position handling
//   - State (600-699): coordinator lifecycle
//
// Usage:
//
//	err := errors.Newf(errors.ErrCodeInvalidOrder, "leverage %v out of range", lev)
//	if errors.HasCode(err, errors.ErrCodeInvalidOrder) { ... }
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an Error.
type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = 1

	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102

	ErrCodeDataNotFound      ErrorCode = 200
	ErrCodeMarketDataMissing ErrorCode = 201

	ErrCodeExchangeUnavailable   ErrorCode = 300
	ErrCodeExchangeRequestFailed ErrorCode = 301
	ErrCodeExchangeNotFound      ErrorCode = 302

	ErrCodeOrderFailed      ErrorCode = 500
	ErrCodePositionNotFound ErrorCode = 501
	ErrCodeOrderRejected    ErrorCode = 502

	ErrCodeInvalidStateTransition ErrorCode = 600
	ErrCodeStartupFailed          ErrorCode = 601
	ErrCodeShutdownFailed         ErrorCode = 602
)

// Error carries a code, a message and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf attaches a code and formatted message to an existing error.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is wraps the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps the standard errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join wraps the standard errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// GetCode returns the code of the first *Error in err's chain, or ErrCodeUnknown.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
