// Package apperror provides errors that carry the HTTP status they map to.
// Transport adapters render any error through GetHTTPStatus and PublicMessage.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeInternal       = "INTERNAL_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidJSON    = "INVALID_JSON"
	CodeNotFound       = "NOT_FOUND"
	CodeBadGateway     = "BAD_GATEWAY"
	CodeGatewayTimeout = "GATEWAY_TIMEOUT"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
)

// AppError is the standard error type of the service.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is returned to the client
	Message string `json:"message"`

	HTTPStatus int   `json:"-"`
	Err        error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidJSON creates a malformed body error (400)
func NewInvalidJSON(err error) *AppError {
	return &AppError{
		Code:       CodeInvalidJSON,
		Message:    "Invalid JSON data",
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewBadGateway creates an error for a failed downstream call (502)
func NewBadGateway(message string, err error) *AppError {
	return &AppError{
		Code:       CodeBadGateway,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewGatewayTimeout creates an error for a downstream call that timed out (504)
func NewGatewayTimeout(message string, err error) *AppError {
	return &AppError{
		Code:       CodeGatewayTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// NewUpstream propagates a non-2xx downstream status to the client.
func NewUpstream(status int, message string) *AppError {
	return &AppError{
		Code:       CodeUpstream,
		Message:    message,
		HTTPStatus: status,
	}
}

// NewRateLimited creates a too many requests error (429)
func NewRateLimited() *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "Too many requests, please try again later",
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewInternal creates an internal server error. The message is shown to the
// client for diagnostics.
func NewInternal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to return to a client.
func PublicMessage(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Message
	}
	return "Internal server error"
}

// CodeOf returns the error code, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
