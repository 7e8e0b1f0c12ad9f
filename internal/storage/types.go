package storage

import "errors"

// Common storage errors
var (
	ErrObjectNotFound   = NewError("ObjectNotFound", "The specified payload does not exist")
	ErrInvalidPath      = NewError("InvalidPath", "The specified path is invalid")
	ErrInvalidURI       = NewError("InvalidURI", "The payload URI does not belong to this store")
	ErrNotWipeable      = NewError("NotWipeable", "The payload lives on a root that does not allow wipe")
	ErrStorageNotReady  = NewError("StorageNotReady", "Storage backend is not ready")
	ErrPermissionDenied = NewError("PermissionDenied", "Permission denied")
)

// StorageError represents a storage-specific error
type StorageError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is matches storage errors by code, so wrapped copies of the sentinels
// above still satisfy errors.Is.
func (e *StorageError) Is(target error) bool {
	var other *StorageError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewError creates a new storage error
func NewError(code, message string) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new storage error with underlying cause
func NewErrorWithCause(code, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
