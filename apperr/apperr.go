// ABOUTME: Structured error taxonomy shared by storage, identity and sync layers
// ABOUTME: Provides coded errors with retryable and cursor-invalidated markers
package apperr

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeExternalError     = "EXTERNAL_ERROR"
	CodeCursorInvalidated = "CURSOR_INVALIDATED"
	CodePersistenceError  = "PERSISTENCE_ERROR"
)

// AppError is a coded application error.
type AppError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func Validation(field, reason string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]any{"field": field},
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: resource + " not found",
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// External marks a failure of a remote dependency. These are retryable.
func External(service string, err error) *AppError {
	return &AppError{
		Code:      CodeExternalError,
		Message:   service + " request failed",
		Retryable: true,
		Err:       err,
	}
}

// CursorInvalidated reports that a provider rejected a stored sync cursor.
func CursorInvalidated(service string, err error) *AppError {
	return &AppError{
		Code:    CodeCursorInvalidated,
		Message: service + " sync token is no longer valid, full sync required",
		Err:     err,
	}
}

func Persistence(op string, err error) *AppError {
	return &AppError{
		Code:    CodePersistenceError,
		Message: "failed to " + op,
		Err:     err,
	}
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool          { return Is(err, CodeNotFound) }
func IsConflict(err error) bool          { return Is(err, CodeConflict) }
func IsValidation(err error) bool        { return Is(err, CodeValidationFailed) }
func IsCursorInvalidated(err error) bool { return Is(err, CodeCursorInvalidated) }

func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Code returns the error code of err, or "" when err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
