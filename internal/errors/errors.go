// Package errors provides coded application errors for the survey sync core.
//
// Every error crossing a package boundary carries an ErrorCode so that the
// HTTP layer, the CLI and the sync orchestrator can branch on it without
// string matching. Remote failures additionally carry a terminal flag: a
// terminal error will never succeed on retry (malformed record, schema
// rejection) and the orchestrator quarantines the record instead of
// re-queueing it.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local persistence errors
	ErrStorageFault ErrorCode = "STORAGE_FAULT"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrConnectivityUnavailable ErrorCode = "CONNECTIVITY_UNAVAILABLE"
	ErrSyncInProgress          ErrorCode = "SYNC_IN_PROGRESS"
	ErrUploadFailed            ErrorCode = "UPLOAD_FAILED"
	ErrSubmissionFailed        ErrorCode = "SUBMISSION_FAILED"
	ErrMalformedRecord         ErrorCode = "MALFORMED_RECORD"
	ErrSyncNotConfigured       ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncTimeout             ErrorCode = "SYNC_TIMEOUT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code     ErrorCode
	Message  string
	Err      error
	terminal bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Terminal reports whether retrying the failed operation is pointless.
func (e *AppError) Terminal() bool {
	return e.terminal
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewTerminal creates an AppError that must not be retried.
func NewTerminal(code ErrorCode, message string) *AppError {
	e := New(code, message)
	e.terminal = true
	return e
}

// WrapTerminal wraps err as a non-retryable AppError.
func WrapTerminal(code ErrorCode, message string, err error) *AppError {
	e := Wrap(code, message, err)
	e.terminal = true
	return e
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTerminal reports whether any AppError in err's chain is terminal.
// Plain errors (network resets, timeouts) are treated as retryable.
func IsTerminal(err error) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.terminal {
			return true
		}
		err = appErr.Err
	}
	return false
}
