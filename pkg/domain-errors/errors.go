// Package domainerrors carries coded errors across service boundaries.
//
// Services translate store sentinels into coded errors; transports map codes to
// protocol responses through httputil.WriteError. The code is the contract, the
// message is for humans and is only exposed for client-facing codes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeForbidden          Code = "forbidden"
	CodeUnauthorized       Code = "unauthorized"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeRateLimited        Code = "rate_limited"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"

	// Ticketing codes.
	CodeOutOfStock               Code = "out_of_stock"
	CodeQuantityExceedsLimit     Code = "quantity_exceeds_limit"
	CodeOrderNotFound            Code = "order_not_found"
	CodeLateConfirmationConflict Code = "late_confirmation_conflict"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. Wrapping nil returns nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code found in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// IsClientError reports whether the code is safe to describe to a caller.
func (c Code) IsClientError() bool {
	switch c {
	case CodeInternal, CodeUnavailable, CodeTimeout, CodeInvariantViolation:
		return false
	default:
		return true
	}
}

// IsRetryable reports whether the caller may retry the same request later.
func (c Code) IsRetryable() bool {
	return c == CodeUnavailable || c == CodeTimeout || c == CodeRateLimited
}
