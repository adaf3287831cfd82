package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	warns  []string
	errors []string
}

func (r *recordingLogger) Warn(msg string, _ map[string]interface{}) { r.warns = append(r.warns, msg) }
func (r *recordingLogger) Error(msg string, _ map[string]interface{}) {
	r.errors = append(r.errors, msg)
}

func TestStandardError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStorageUnavailableError("presence.get", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, err.Retryable)
	assert.Contains(t, err.Details, "presence.get")
	assert.Equal(t, "StandardError[STORAGE_UNAVAILABLE]: Presence storage unavailable", err.Error())
}

func TestStandardError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("heartbeat: %w", NewInvalidHeartbeatError("bad kind"))

	assert.True(t, stderrors.Is(wrapped, &StandardError{Code: ErrCodeInvalidHeartbeat}))
	assert.False(t, stderrors.Is(wrapped, &StandardError{Code: ErrCodeStaleHeartbeat}))
	assert.True(t, HasCode(wrapped, ErrCodeInvalidHeartbeat))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))

	std := NewSessionNotFoundError("s-1")
	assert.Same(t, std, Normalize(fmt.Errorf("wrap: %w", std)))

	foreign := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, foreign.Code)
	assert.False(t, foreign.Retryable)
}

func TestErrorCodeClassification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		category  string
		status    int
	}{
		{ErrCodeStorageUnavailable, true, "storage", http.StatusServiceUnavailable},
		{ErrCodeVersionConflict, true, "storage", http.StatusServiceUnavailable},
		{ErrCodeLockUnavailable, true, "storage", http.StatusServiceUnavailable},
		{ErrCodeStaleHeartbeat, false, "validation", http.StatusConflict},
		{ErrCodeInvalidHeartbeat, false, "validation", http.StatusBadRequest},
		{ErrCodeInvalidQuery, false, "validation", http.StatusBadRequest},
		{ErrCodeUnauthorized, false, "authorization", http.StatusUnauthorized},
		{ErrCodeSessionNotFound, false, "not_found", http.StatusNotFound},
		{ErrCodeInternal, false, "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableErrorCode(tt.code))
			assert.Equal(t, tt.category, GetErrorCategory(tt.code))
			assert.Equal(t, tt.status, HTTPStatus(tt.code))
		})
	}
}

func TestErrorHandler_Resolve(t *testing.T) {
	log := &recordingLogger{}
	h := NewErrorHandler(log)

	status, body := h.Resolve("/heartbeat", NewStaleHeartbeatError("u-1", time.Unix(10, 0), time.Unix(20, 0)))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ErrCodeStaleHeartbeat, body.Code)
	require.Len(t, log.warns, 1)

	status, body = h.Resolve("/heartbeat", stderrors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, ErrCodeInternal, body.Code)
	require.Len(t, log.errors, 1)
}

func TestWithMetadata(t *testing.T) {
	err := NewVersionConflictError("u-1", 3).WithMetadata("userId", "u-1")
	assert.Equal(t, "u-1", err.Metadata["userId"])
}
