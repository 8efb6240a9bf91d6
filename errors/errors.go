// Package errors provides the structured error types used by the sync engine.
//
// Every failure that crosses a component boundary is carried as a *SyncError
// so that callers can classify it without string matching. The Retryable flag
// is the single source of truth for the transient/permanent split: transient
// failures (network unreachable, timeout, 5xx) consume a retry slot and are
// rescheduled with backoff, permanent failures (validation, most 4xx) go
// straight to the dead-letter set.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeServerFailure     ErrorCode = "SERVER_FAILURE"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeConflict          ErrorCode = "CONFLICT"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpEnqueue Operation = "enqueue"
	OpDrain   Operation = "drain"
	OpSend    Operation = "send"
	OpPersist Operation = "persist"
	OpLoad    Operation = "load"
	OpResolve Operation = "resolve"
	OpCheck   Operation = "check"
	OpClose   Operation = "close"
)

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "queue", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewTimeoutError creates a new timeout-related SyncError
func NewTimeoutError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeTimeout,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewServerError creates a SyncError for a 5xx response
func NewServerError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeServerFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewRateLimitError creates a SyncError for a 429 response. Rate limiting is
// transient by definition, so the error is retryable.
func NewRateLimitError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeRateLimited,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewConflictError creates a SyncError for a version conflict reported by the
// server. Metadata may carry the server's copy of the contested item under the
// "serverItem" key for conflict resolution.
func NewConflictError(op Operation, cause error, metadata map[string]interface{}) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflict,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: false,
		Metadata:  metadata,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsPermanent reports whether err should not be retried. A plain
// (non-SyncError) error is treated as permanent: it was produced outside the
// transport classification and retrying cannot change it.
func IsPermanent(err error) bool {
	return err != nil && !IsRetryable(err)
}

// IsConflict checks if an error is a version-conflict SyncError
func IsConflict(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeConflict
	}
	return false
}

// AsSyncError extracts a *SyncError from err, if present
func AsSyncError(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}
