// Package httpserver contains the REST handlers, middleware and JWT auth
// for the API process. HTTP concerns stay here; business rules live in the
// usecase services.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses and the
// {error: {code, message, details}} envelope.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrInvalidCredentials):
		status = http.StatusBadRequest
		code = "INVALID_CREDENTIALS"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		code = "UNAUTHORIZED_ACCESS"
	case errors.Is(err, domain.ErrUserInactive):
		status = http.StatusForbidden
		code = "USER_INACTIVE"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusBadRequest
		code = "EMAIL_ALREADY_EXISTS"
	case errors.Is(err, domain.ErrPersonasNotReady):
		status = http.StatusConflict
		code = "PERSONAS_NOT_READY"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs, not in the response body.
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg, Details: details}})
}
