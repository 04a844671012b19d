package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind classifies an error for transport mapping (HTTP status, ack code).
type Kind string

const (
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
	KindTransientTransport Kind = "TRANSIENT_TRANSPORT_FAILURE"
	KindPersistence        Kind = "PERSISTENCE_FAILURE"
	KindRateLimit          Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// AppError is a custom error type that includes an HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	cause   error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// NewAppError creates a new AppError
func NewAppError(code int, kind Kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap attaches the underlying cause without exposing it in Message.
func (e *AppError) Wrap(cause error) *AppError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Common errors
var (
	ErrInvalidRequest = NewAppError(http.StatusBadRequest, KindValidation, "Invalid request parameters")
	ErrUnauthorized   = NewAppError(http.StatusUnauthorized, KindUnauthorized, "Unauthorized access")
	ErrForbidden      = NewAppError(http.StatusForbidden, KindPermissionDenied, "Access denied")
	ErrNotFound       = NewAppError(http.StatusNotFound, KindNotFound, "Resource not found")
	ErrInternalServer = NewAppError(http.StatusInternalServerError, KindInternal, "Internal server error")
	ErrRateLimit      = NewAppError(http.StatusTooManyRequests, KindRateLimit, "Rate limit exceeded")
)

// Helper functions to create specific errors
func BadRequest(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, KindValidation, msg)
}

func Validation(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, KindValidation, msg)
}

func NotFound(msg string) *AppError {
	return NewAppError(http.StatusNotFound, KindNotFound, msg)
}

func Unauthorized(msg string) *AppError {
	return NewAppError(http.StatusUnauthorized, KindUnauthorized, msg)
}

func Forbidden(msg string) *AppError {
	return NewAppError(http.StatusForbidden, KindPermissionDenied, msg)
}

func Persistence(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, KindPersistence, msg).Wrap(cause)
}

func Transport(msg string, cause error) *AppError {
	return NewAppError(http.StatusServiceUnavailable, KindTransientTransport, msg).Wrap(cause)
}

func Internal(msg string) *AppError {
	return NewAppError(http.StatusInternalServerError, KindInternal, msg)
}

// KindOf reports the Kind of err, or KindInternal when err is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// FromKind rebuilds an AppError from a kind received over the wire.
func FromKind(kind Kind, msg string) *AppError {
	status := http.StatusInternalServerError
	switch kind {
	case KindUnauthorized:
		status = http.StatusUnauthorized
	case KindPermissionDenied:
		status = http.StatusForbidden
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindTransientTransport:
		status = http.StatusServiceUnavailable
	case KindRateLimit:
		status = http.StatusTooManyRequests
	case "":
		kind = KindInternal
	}
	return NewAppError(status, kind, msg)
}
