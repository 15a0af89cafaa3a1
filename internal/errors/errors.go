// Package errors provides error code definitions for the sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local storage errors. Losing a queued mutation is a correctness bug, so
	// these are fatal to the triggering operation and surfaced synchronously.
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"
	ErrEnqueue    ErrorCode = "ENQUEUE_FAILED"

	// Remote store errors, classified at the transport boundary
	ErrRemoteTransient ErrorCode = "REMOTE_TRANSIENT"
	ErrRemoteRejected  ErrorCode = "REMOTE_REJECTED"
	ErrRemoteAuth      ErrorCode = "REMOTE_AUTH_FAILED"
	ErrRemotePayload   ErrorCode = "REMOTE_MALFORMED_PAYLOAD"

	// Sync loop errors
	ErrSyncFailed      ErrorCode = "SYNC_FAILED"
	ErrSyncSuspended   ErrorCode = "SYNC_SUSPENDED"
	ErrSyncRetryBound  ErrorCode = "SYNC_RETRY_EXHAUSTED"
	ErrNetworkOffline  ErrorCode = "NETWORK_OFFLINE"

	// Credential errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
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

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
