package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrConflict                = errors.New("conflict")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrInternal                = errors.New("internal error")
)

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Unavailable reports a non-success answer from a remote collaborator.
// status is the upstream HTTP status, or 0 when no response arrived.
func Unavailable(service string, status int, cause error) *AppError {
	msg := fmt.Sprintf("%s unavailable", service)
	if status != 0 {
		msg = fmt.Sprintf("%s returned status %d", service, status)
	}
	err := ErrCollaboratorUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, cause)
	}
	return &AppError{
		Code:    "COLLABORATOR_UNAVAILABLE",
		Message: msg,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code err maps to.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrCollaboratorUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
