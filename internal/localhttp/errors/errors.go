package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
	CodeUnavailable  = "unavailable"
)

// AppError is an error that knows how it is rendered over HTTP
type AppError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Status   int            `json:"-"`
	Internal error          `json:"-"`
	Details  map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// Response is the body written for e.
func (e *AppError) Response() ErrorResponse {
	return ErrorResponse{Code: e.Code, Message: e.Message, Details: e.Details}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func New(code string, message string, status int, internal error) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Status:   status,
		Internal: internal,
	}
}

func BadRequest(message string, internal error) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest, internal)
}

func Unauthorized(message string, internal error) *AppError {
	if message == "" {
		message = "Authentication required"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized, internal)
}

func NotFound(message string, internal error) *AppError {
	if message == "" {
		message = "Resource not found"
	}
	return New(CodeNotFound, message, http.StatusNotFound, internal)
}

func TooManyRequests() *AppError {
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests, nil)
}

func Unavailable(message string, internal error) *AppError {
	return New(CodeUnavailable, message, http.StatusServiceUnavailable, internal)
}

func Internal(message string, internal error) *AppError {
	if message == "" {
		message = "Internal server error"
	}
	return New(CodeInternal, message, http.StatusInternalServerError, internal)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
