// Package errors implements the structured AppError taxonomy used
// across the dispatch pipeline (spec.md §7): each error carries a
// Type that maps to an HTTP status code at the request boundary, and
// an optional Cause for wrapping.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for both HTTP status mapping and
// task-queue retry policy (spec.md §7).
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeDatabase     ErrorType = "database"
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeTransient    ErrorType = "transient"
	ErrorTypeNoCandidates ErrorType = "no_candidates"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeAuth:         http.StatusUnauthorized,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeTimeout:      http.StatusRequestTimeout,
	ErrorTypeRateLimit:    http.StatusTooManyRequests,
	ErrorTypeDatabase:     http.StatusInternalServerError,
	ErrorTypeNetwork:      http.StatusInternalServerError,
	ErrorTypeInternal:     http.StatusInternalServerError,
	ErrorTypeTransient:    http.StatusServiceUnavailable,
	ErrorTypeNoCandidates: http.StatusUnprocessableEntity,
}

// AppError is a structured error that knows its own HTTP status code.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// IsType reports whether err is an *AppError of the given Type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// Retryable reports whether C7 should retry the task that produced
// err, rather than ack it as a terminal outcome (spec.md §7).
func Retryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == ErrorTypeTransient || appErr.Type == ErrorTypeNetwork || appErr.Type == ErrorTypeDatabase
}

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", op)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(op string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", op)
}

// NewTransientError marks a store/broker/broadcast outage that C7
// should retry with backoff (spec.md §7).
func NewTransientError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeTransient, "transient failure: %s", op)
}

// NewNoCandidatesError marks a dispatch attempt where neither a
// primary nor a fallback candidate exists; C7's default policy acks
// this outcome without retry (spec.md §4.6 step 6, §7).
func NewNoCandidatesError(requestID string) *AppError {
	return Newf(ErrorTypeNoCandidates, "no candidates available for request %s", requestID)
}

// NewTypeCastError is C1-internal; it is always surfaced to the HTTP
// boundary as a ValidationError (spec.md §4.1, §7).
func NewTypeCastError(message string) *AppError {
	return New(ErrorTypeValidation, message).WithDetails("type_cast_error")
}
