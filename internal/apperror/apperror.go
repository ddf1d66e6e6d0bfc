// Package apperror defines the error taxonomy shared by every layer.
//
// Services and repositories return *AppError values that wrap one of the
// sentinels below. The HTTP layer maps the sentinel to a status code with
// errors.Is, and shows AppError.Message to the client. Anything that does not
// carry an *AppError is treated as an internal fault.
//
//	ErrValidation    → 400  missing or malformed input
//	ErrUnauthorized  → 401  bad credentials, missing or invalid session
//	ErrForbidden     → 403  identity is known but not allowed to act
//	ErrNotFound      → 404
//	ErrConflict      → 409  email or username already taken
//	ErrInternal      → 500  hashing, signing, or repository failure
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInternal     = errors.New("internal error")
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Message string // safe to show to the client
	Field   string // optional: input field that failed validation
	Cause   error  // optional: underlying fault, logged but never serialised
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation, e.g. an email that is already
// bound to another identity.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Unauthorized returns an AppError for failed authentication. Keep the
// message generic: it must not reveal which credential was wrong.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Internal wraps an unexpected failure. The cause stays reachable through
// errors.Is/As and in logs, while clients only ever see a generic message.
func Internal(cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: "An internal error occurred",
		Cause:   cause,
	}
}
