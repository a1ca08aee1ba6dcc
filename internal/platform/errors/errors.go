package errors

import stderrors "errors"

// Error is the protocol error type carried from validation to the error frame.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Client-facing message
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a protocol error with the code's default message.
func New(code Code) *Error {
	return &Error{
		Code:    code,
		Message: code.Message(),
	}
}

// Newf creates a protocol error with a custom message.
func Newf(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a protocol error that wraps an underlying cause.
func Wrap(code Code, cause error) *Error {
	return &Error{
		Code:    code,
		Message: code.Message(),
		Cause:   cause,
	}
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var target *Error
	if stderrors.As(err, &target) {
		return target.Code
	}
	return CodeInternal
}
