// Package errors renders failures as JSON bodies of the form {"error": ..., "code": ...}.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

type body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps a taxonomy kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFoundOrForbidden:
		return http.StatusNotFound
	case apperr.KindInsufficientRole:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotConnected, apperr.KindMissingRefreshToken:
		return http.StatusConflict
	case apperr.KindProviderAuth, apperr.KindProviderAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err. Taxonomy errors keep their message; provider detail is logged but
// never sent. Anything else becomes a generic 500.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, store.ErrConflict) {
		WriteStatus(w, http.StatusConflict, "already exists", "conflict")
		return
	}
	kind := apperr.KindOf(err)
	if kind == "" {
		InternalError(w, r, err, "unhandled error")
		return
	}
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		LogError(r, string(kind), err)
	}
	msg := apperr.Message(err)
	if msg == "" {
		msg = string(kind)
	}
	WriteStatus(w, status, msg, string(kind))
}

// WriteStatus writes a JSON error body with an explicit status.
func WriteStatus(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: message, Code: code})
}

// InternalError logs err with the request id and returns a generic 500.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	WriteStatus(w, http.StatusInternalServerError, "internal server error", "internal_error")
}

// BadRequestError logs err and returns clientMessage with 400.
func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	slog.WarnContext(r.Context(), "bad request", "request_id", middleware.GetReqID(r.Context()), "err", err)
	WriteStatus(w, http.StatusBadRequest, clientMessage, string(apperr.KindValidation))
}

func LogError(r *http.Request, message string, err error) {
	slog.ErrorContext(r.Context(), message, "request_id", middleware.GetReqID(r.Context()), "err", err)
}
