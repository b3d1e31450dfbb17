package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/jw6ventures/taskcal/internal/apperr"
	httperrors "github.com/jw6ventures/taskcal/internal/http/errors"
)

const (
	connectStateCookie = "taskcal_connect"
	connectStateTTL    = 10 * time.Minute
)

// connectState binds a provider state nonce to the user who started the flow.
type connectState struct {
	UserID string `json:"u"`
	State  string `json:"s"`
}

func (h *Handler) integrationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.connector.Status(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) beginConnect(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.connector.BeginConnect()
	if err != nil {
		httperrors.InternalError(w, r, err, "begin connect")
		return
	}
	if err := h.sessions.SetState(w, connectStateCookie, connectState{UserID: principal(r), State: state}, connectStateTTL); err != nil {
		httperrors.InternalError(w, r, err, "store connect state")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) completeConnect(w http.ResponseWriter, r *http.Request) {
	var saved connectState
	if err := h.sessions.ReadState(r, connectStateCookie, &saved); err != nil {
		httperrors.BadRequestError(w, r, err, "connect session expired; start again")
		return
	}
	h.sessions.ClearState(w, connectStateCookie)

	q := r.URL.Query()
	if saved.UserID != principal(r) || q.Get("state") == "" || q.Get("state") != saved.State {
		httperrors.BadRequestError(w, r, errors.New("connect state mismatch"), "invalid connect state")
		return
	}
	if e := q.Get("error"); e != "" {
		fail(w, r, apperr.Validation("calendar access was not granted: %s", e))
		return
	}
	code := q.Get("code")
	if code == "" {
		fail(w, r, apperr.Validation("missing authorization code"))
		return
	}
	if _, err := h.connector.CompleteConnect(r.Context(), principal(r), code); err != nil {
		fail(w, r, err)
		return
	}
	http.Redirect(w, r, h.afterConnect, http.StatusFound)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.connector.Disconnect(r.Context(), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.Sync(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
