// Package errors provides the standardized error taxonomy of the presence tracker.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeVersionConflict    ErrorCode = "VERSION_CONFLICT"
	ErrCodeLockUnavailable    ErrorCode = "LOCK_UNAVAILABLE"

	ErrCodeStaleHeartbeat   ErrorCode = "STALE_HEARTBEAT"
	ErrCodeInvalidHeartbeat ErrorCode = "INVALID_HEARTBEAT"
	ErrCodeInvalidQuery     ErrorCode = "INVALID_QUERY"

	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	ErrCodeArchiveFailed ErrorCode = "ARCHIVE_FAILED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches another StandardError by code.
func (e *StandardError) Is(target error) bool {
	var t *StandardError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMetadata attaches a metadata entry and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewStorageUnavailableError wraps a repository failure as a retryable error.
func NewStorageUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageUnavailable,
		Message:   "Presence storage unavailable",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewVersionConflictError reports that concurrent writers kept winning the CAS.
func NewVersionConflictError(userID string, attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeVersionConflict,
		Message:   "Presence row changed concurrently",
		Details:   fmt.Sprintf("userId: %s, attempts: %d", userID, attempts),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockUnavailableError reports that the per-user lock could not be taken.
func NewLockUnavailableError(userID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLockUnavailable,
		Message:   "Could not acquire presence lock",
		Details:   fmt.Sprintf("userId: %s, error: %s", userID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewStaleHeartbeatError rejects a heartbeat older than the last accepted one.
func NewStaleHeartbeatError(userID string, observedAt, lastHeartbeatAt time.Time) *StandardError {
	return &StandardError{
		Code:    ErrCodeStaleHeartbeat,
		Message: "Heartbeat is older than the last accepted heartbeat",
		Details: fmt.Sprintf("userId: %s, observedAt: %s, lastHeartbeatAt: %s",
			userID, observedAt.Format(time.RFC3339Nano), lastHeartbeatAt.Format(time.RFC3339Nano)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidHeartbeatError creates a non-retryable input error.
func NewInvalidHeartbeatError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidHeartbeat,
		Message:   "Invalid heartbeat",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidQueryError creates a non-retryable query parameter error.
func NewInvalidQueryError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuery,
		Message:   "Invalid presence query",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError reports a missing session row.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError reports a caller whose identity could not be resolved.
func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "Caller identity could not be verified",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewArchiveFailedError wraps a failure to mirror a closed session.
func NewArchiveFailedError(sessionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArchiveFailed,
		Message:   "Session archive write failed",
		Details:   fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// Normalize returns err as a StandardError, wrapping foreign errors as internal.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err is a StandardError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageUnavailable, ErrCodeVersionConflict, ErrCodeLockUnavailable, ErrCodeArchiveFailed:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	c := string(code)
	switch {
	case strings.HasPrefix(c, "STORAGE_"), code == ErrCodeVersionConflict, code == ErrCodeLockUnavailable:
		return "storage"
	case strings.HasPrefix(c, "INVALID_"), code == ErrCodeStaleHeartbeat:
		return "validation"
	case code == ErrCodeUnauthorized:
		return "authorization"
	case code == ErrCodeSessionNotFound:
		return "not_found"
	case code == ErrCodeArchiveFailed:
		return "archive"
	default:
		return "internal"
	}
}
