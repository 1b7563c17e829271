package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raspy-assistant/statehub/internal/state"
)

// Error represents a structured error response.
//
// The message is carried under "error" because the devices already read
// that key.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"error"`
}

// Common error codes.
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeMethodNotAllow  = "method_not_allowed"
	ErrCodeForbidden       = "forbidden"
	ErrCodeInternal        = "internal_error"
	ErrCodeInvalidValue    = "invalid_value"
	ErrCodeEmptyField      = "empty_field"
	ErrCodeInvalidEnum     = "invalid_enum"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUnavailable     = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, field, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Field:   field,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, code, field, message string) {
	writeError(w, http.StatusBadRequest, code, field, message)
}

// writeForbidden writes the 403 returned for a missing or wrong API key.
func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, "", "forbidden")
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "", message)
}

// writeUnavailable writes a 503 for a feature that is not configured.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "", message)
}

// writeStateError maps a decode or patch error to a response.
func writeStateError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "", "request body too large")
		return
	}

	var fe *state.FieldError
	if !errors.As(err, &fe) {
		writeBadRequest(w, ErrCodeInvalidValue, "", err.Error())
		return
	}

	code := ErrCodeInvalidValue
	switch {
	case errors.Is(fe, state.ErrEmptyField):
		code = ErrCodeEmptyField
	case errors.Is(fe, state.ErrInvalidEnum):
		code = ErrCodeInvalidEnum
	}
	writeBadRequest(w, code, fe.Field, fe.Error())
}
