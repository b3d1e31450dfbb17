package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/taskcal/internal/apperr"
)

func (h *Handler) feedURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := h.feeds.FeedURLs(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}

func (h *Handler) rotateICS(w http.ResponseWriter, r *http.Request) {
	if _, err := h.feeds.RotateICSFeedToken(r.Context(), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	h.feedURLs(w, r)
}

func (h *Handler) rotateWebhook(w http.ResponseWriter, r *http.Request) {
	if _, err := h.feeds.RotateWebhookToken(r.Context(), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	h.feedURLs(w, r)
}

// ServeICS answers GET /feeds/{token}.ics. The token is the only credential.
func (h *Handler) ServeICS(w http.ResponseWriter, r *http.Request) {
	body, err := h.feeds.RenderICS(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ReceiveWebhook answers POST /hooks/{token}/tasks.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, apperr.Validation("payload exceeds %d bytes", maxWebhookBytes))
			return
		}
		fail(w, r, apperr.Validation("read payload: %v", err))
		return
	}
	v, err := h.feeds.IngestWebhook(r.Context(), chi.URLParam(r, "token"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskViewJSON(v))
}
