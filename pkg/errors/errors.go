package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Streaming failure classes.
	ErrCodeTransientNetwork  ErrorCode = "TRANSIENT_NETWORK"
	ErrCodeProtocol          ErrorCode = "PROTOCOL_ERROR"
	ErrCodeSinkFailure       ErrorCode = "SINK_FAILURE"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeNotConnected      ErrorCode = "NOT_CONNECTED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// NewTransientNetworkError marks a failure that the reconnect path absorbs.
func NewTransientNetworkError(err error, message string) *AppError {
	return WrapError(err, ErrCodeTransientNetwork, message, http.StatusServiceUnavailable)
}

// NewProtocolError marks a malformed or unexpected message. The message is dropped.
func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message, http.StatusBadRequest)
}

// NewSinkError marks a local recording failure. The sink disables itself.
func NewSinkError(err error, message string) *AppError {
	return WrapError(err, ErrCodeSinkFailure, message, http.StatusInternalServerError)
}

// NewNegotiationError marks a failed offer/answer exchange.
func NewNegotiationError(err error, message string) *AppError {
	return WrapError(err, ErrCodeNegotiationFailed, message, http.StatusBadGateway)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
