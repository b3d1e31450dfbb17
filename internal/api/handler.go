// Package api serves the JSON API and the public capability routes.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/feeds"
	httperrors "github.com/jw6ventures/taskcal/internal/http/errors"
	"github.com/jw6ventures/taskcal/internal/integration"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
)

// Deps are the services behind the API.
type Deps struct {
	Tasks     *tasks.Service
	Feeds     *feeds.Service
	Connector *integration.Connector
	Syncer    *integration.Syncer
	Sessions  *auth.SessionManager
	// AfterConnect is where the browser lands after the provider callback. Defaults to "/".
	AfterConnect string
}

type Handler struct {
	tasks        *tasks.Service
	feeds        *feeds.Service
	connector    *integration.Connector
	syncer       *integration.Syncer
	sessions     *auth.SessionManager
	afterConnect string
}

func NewHandler(d Deps) *Handler {
	after := d.AfterConnect
	if after == "" {
		after = "/"
	}
	return &Handler{
		tasks:        d.Tasks,
		feeds:        d.Feeds,
		connector:    d.Connector,
		syncer:       d.Syncer,
		sessions:     d.Sessions,
		afterConnect: after,
	}
}

// Routes registers the session-authenticated API. The caller mounts it under /api
// behind session and CSRF middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/session", h.session)

	r.Route("/lists", func(r chi.Router) {
		r.Get("/", h.listLists)
		r.Post("/", h.createList)
		r.Route("/{listID}", func(r chi.Router) {
			r.Get("/", h.getList)
			r.Patch("/", h.updateList)
			r.Delete("/", h.deleteList)
			r.Get("/collaborators", h.listCollaborators)
			r.Post("/collaborators", h.inviteCollaborator)
			r.Delete("/collaborators/{userID}", h.removeCollaborator)
		})
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", h.getTask)
			r.Patch("/", h.updateTask)
			r.Delete("/", h.deleteTask)
			r.Get("/activity", h.taskActivity)
			r.Post("/comments", h.addComment)
		})
	})

	r.Route("/integrations/google", func(r chi.Router) {
		r.Get("/", h.integrationStatus)
		r.Delete("/", h.disconnect)
		r.Get("/connect", h.beginConnect)
		r.Get("/callback", h.completeConnect)
		r.Post("/sync", h.sync)
	})

	r.Get("/feeds", h.feedURLs)
	r.Post("/feeds/ics/rotate", h.rotateICS)
	r.Post("/feeds/webhook/rotate", h.rotateWebhook)
}

func principal(r *http.Request) string {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return ""
	}
	return u.ID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	httperrors.Write(w, r, err)
}
