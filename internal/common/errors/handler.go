// internal/common/errors/handler.go
package errors

import (
	"net/http"
)

// ErrorHandler turns errors into HTTP responses with standardized bodies.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Response is the JSON body written for a failed request.
type Response struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Resolve normalizes err, logs it and returns the HTTP status and body to send.
func (h *ErrorHandler) Resolve(route string, err error) (int, Response) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"route":         route,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
		"httpStatus":    status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields)
	} else {
		h.logger.Warn("Request rejected", fields)
	}

	return status, Response{
		Code:      stdErr.Code,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
	}
}

// HTTPStatus maps an error code to the status code returned to callers.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidHeartbeat, ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeStaleHeartbeat:
		return http.StatusConflict
	case ErrCodeStorageUnavailable, ErrCodeVersionConflict, ErrCodeLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
