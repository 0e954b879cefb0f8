package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType defines the type of error
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeInternal    ErrorType = "internal"
)

// APIError is the error envelope returned by the status API
type APIError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	HTTPCode  int       `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Code, e.Message)
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

func newError(t ErrorType, status int, code, message string) *APIError {
	return &APIError{Type: t, Code: code, Message: message, HTTPCode: status}
}

// NotFoundError creates a 404 error
func NotFoundError(code, message string) *APIError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, code, message)
}

// UnavailableError creates a 503 error
func UnavailableError(code, message string) *APIError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, code, message)
}

// InternalError creates a 500 error
func InternalError(code, message string) *APIError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, code, message)
}

// FromError returns err as an *APIError, wrapping unknown errors as internal
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	return InternalError("internal_error", err.Error())
}
