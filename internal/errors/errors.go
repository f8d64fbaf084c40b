// Package errors provides error code definitions for the sync engine.
package errors

import "fmt"

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Durable store errors
	ErrStore     ErrorCode = "STORE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Remote store errors
	ErrRemote       ErrorCode = "REMOTE_ERROR"
	ErrRemoteAuth   ErrorCode = "REMOTE_AUTH_FAILED"
	ErrRemoteStatus ErrorCode = "REMOTE_BAD_STATUS"

	// Queue and replay errors
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrReplayFailed   ErrorCode = "REPLAY_FAILED"
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrPayloadDecode  ErrorCode = "PAYLOAD_DECODE_FAILED"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"

	// Bridge errors
	ErrBridgeClosed ErrorCode = "BRIDGE_CLOSED"
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
