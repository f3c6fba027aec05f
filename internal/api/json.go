package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmtorr3/blog/internal/apperr"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Field string `json:"field,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error onto a status code. Unexpected errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, apperr.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	default:
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// decodeJSON reads a JSON body into v. Validation errors raised while
// decoding (block structure) are passed through unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case apperr.IsValidation(err):
		return err
	case errors.Is(err, io.EOF):
		return apperr.Invalid("", "request body is required")
	}
	return apperr.Invalid("", "invalid JSON body")
}
