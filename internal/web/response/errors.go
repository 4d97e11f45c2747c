package response

import (
	"errors"
	"net/http"

	"github.com/conduit-lang/entityroutes/internal/orm/reader"
	"github.com/conduit-lang/entityroutes/internal/orm/repository"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/validation"
)

// HTTPError is an error carrying the status it should be answered with
type HTTPError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// BadRequest wraps err as a 400 error
func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusBadRequest, Message: message, Err: err}
}

// StatusFor maps an error of the request pipeline to its HTTP status
func StatusFor(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	var validationErr *validation.ValidationErrors
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, reader.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, schema.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, reader.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrUniqueViolation):
		return http.StatusConflict
	case errors.Is(err, repository.ErrForeignKeyViolation),
		errors.Is(err, repository.ErrNotNullViolation),
		errors.Is(err, repository.ErrCheckViolation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
