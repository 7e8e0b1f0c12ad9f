package engine

import (
	"errors"
	"fmt"
)

// Status classifies the outcome of an engine request.
type Status int

const (
	StatusSuccess Status = iota
	StatusIteratorEnd
	StatusNotFound
	StatusError
	StatusUnexpected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusIteratorEnd:
		return "iterator end"
	case StatusNotFound:
		return "not found"
	case StatusError:
		return "error"
	case StatusUnexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error codes refining StatusError.
const (
	CodeInvalidKey    = "InvalidKey"
	CodeInvalidConfig = "InvalidConfig"
	CodeClosed        = "Closed"
	CodeStorage       = "Storage"
	CodeCatalogue     = "Catalogue"
	CodeChecksum      = "Checksum"
	CodeInvalidRange  = "InvalidRange"
	CodeInvalidPolicy = "InvalidPolicy"
	CodeAccessDenied  = "AccessDenied"
	CodeIteratorEnd   = "IteratorEnd"
	CodeNotFound      = "NotFound"
)

// Error is the error type engines return across the boundary.
type Error struct {
	Status  Status
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same status and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Status == e.Status && t.Code == e.Code
}

// NewError creates an engine error.
func NewError(status Status, code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates an engine error wrapping cause.
func NewErrorWithCause(status Status, code, message string, cause error) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrIteratorEnd is returned by cursors once their results are exhausted.
var ErrIteratorEnd = NewError(StatusIteratorEnd, CodeIteratorEnd, "iteration complete")

// StatusOf extracts the status of err. Errors that are not *Error report
// StatusUnexpected.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusUnexpected
}

// IsIteratorEnd reports whether err marks the end of a cursor.
func IsIteratorEnd(err error) bool {
	return StatusOf(err) == StatusIteratorEnd
}
