// Package handler contains the HTTP handlers of the auth API.
//
// Handlers parse the request, call a service and write JSON. Every error
// response has the same shape:
//
//	{"error": "conflict", "message": "Username already taken"}
//
// "error" is a stable machine-readable code, "message" is safe to show.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/matcha/internal/apperror"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorMapping pairs a sentinel with its HTTP status and error code.
type errorMapping struct {
	sentinel error
	status   int
	code     string
}

// errorMappings is checked in order; the first sentinel found in the chain
// wins. Anything unmatched is a 500.
var errorMappings = []errorMapping{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
}

const internalMessage = "An internal error occurred"

// statusFor returns the status and code for err.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeJSON sends data as JSON with the given status. Headers must be set
// before WriteHeader, so Content-Type goes first.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a service error to a response. 5xx causes are logged; the
// client only ever sees the generic message for them.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)

	message := internalMessage
	var appErr *apperror.AppError
	if status != http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
