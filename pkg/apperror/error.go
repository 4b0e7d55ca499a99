// Package apperror defines the application error taxonomy and the HTTP
// error handler that renders it.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error carrying an HTTP status and a stable code.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped internal error.
func (e *Error) Unwrap() error {
	return e.Internal
}

// WithMessage returns a copy of the error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
	}
}

// WithInternal returns a copy of the error with an internal error attached.
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
	}
}

// New creates a new application error.
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Error definitions. The codes are part of the API contract.
var (
	// Validation
	ErrInvalidInput = New(http.StatusBadRequest, "invalid_input", "Invalid request")

	// Auth
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")

	// Resources
	ErrNotFound = New(http.StatusNotFound, "not_found", "Resource not found")

	// Dependency availability. The queue variant never reaches a client:
	// the HTTP surface recovers it with a synchronous fallback.
	ErrUnavailableQueue  = New(http.StatusServiceUnavailable, "unavailable_queue", "Job queue is unavailable")
	ErrUnavailableEmbed  = New(http.StatusInternalServerError, "unavailable_embed", "Embedding service is unavailable")
	ErrUnavailableVector = New(http.StatusInternalServerError, "unavailable_vector", "Vector store is unavailable")
	ErrUnavailableLLM    = New(http.StatusInternalServerError, "unavailable_llm", "Language model service is unavailable")
	ErrTimeout           = New(http.StatusInternalServerError, "timeout", "Upstream request timed out")

	// Fallback
	ErrInternal = New(http.StatusInternalServerError, "internal", "An internal error occurred")
)

// NewInvalidInput creates an invalid_input error with a custom message.
func NewInvalidInput(message string) *Error {
	return ErrInvalidInput.WithMessage(message)
}

// NewNotFound creates a not_found error for a resource type and ID.
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInternal creates an internal error wrapping err.
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal",
		Message:    message,
		Internal:   err,
	}
}

// From extracts an *Error from err, or wraps it as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithInternal(err)
}
