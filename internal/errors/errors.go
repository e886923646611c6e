// Package errors defines the typed error surface of the service layer.
//
// Every rejected operation returns a *ServiceError carrying a stable code,
// a human-readable message and the HTTP status the API layer should use.
// Errors are strictly per-call: no operation leaves partial state behind,
// and no error is fatal to the system as a whole.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a service error.
type Code string

const (
	// CodeInvalidInput covers zero amounts, zero addresses or partitions,
	// and out-of-range indexes.
	CodeInvalidInput Code = "invalid_input"

	// CodeUnauthorized covers owner/manager/whitelist/operator failures.
	CodeUnauthorized Code = "unauthorized"

	// CodeNotFound covers lookups of records that do not exist.
	CodeNotFound Code = "not_found"

	// CodeConflict covers state conflicts: already approved, cancelled,
	// claimed, recycled, overfilled, or insufficient balance.
	CodeConflict Code = "state_conflict"

	// CodeTiming covers operations attempted outside their allowed window.
	CodeTiming Code = "timing"

	// CodeArithmetic covers overflow or underflow in checked computations.
	CodeArithmetic Code = "arithmetic"

	// CodeRateLimited is returned by the HTTP rate limiting middleware.
	CodeRateLimited Code = "rate_limited"

	// CodeInternal covers unexpected failures (storage, payment medium).
	CodeInternal Code = "internal"
)

// ServiceError is the error type returned by all service operations.
type ServiceError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error implements error.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidInput builds a validation error.
func InvalidInput(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusBadRequest}
}

// Unauthorized builds an authorization error.
func Unauthorized(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusForbidden}
}

// NotFound builds a missing-record error.
func NotFound(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusNotFound}
}

// Conflict builds a state-conflict error.
func Conflict(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeConflict, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusConflict}
}

// Timing builds a timing-window error.
func Timing(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeTiming, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusUnprocessableEntity}
}

// Arithmetic builds an overflow/underflow error.
func Arithmetic(format string, args ...any) *ServiceError {
	return &ServiceError{Code: CodeArithmetic, Message: fmt.Sprintf(format, args...), HTTPStatus: http.StatusUnprocessableEntity}
}

// RateLimitExceeded builds a rate limiting error.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Internal wraps an unexpected failure.
func Internal(err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: err.Error(), HTTPStatus: http.StatusInternalServerError}
}

// CodeOf extracts the code from an error, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// Is reports whether err is a ServiceError with the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus returns the HTTP status for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
