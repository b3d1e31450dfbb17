package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/http/csrf"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":          u.ID,
			"email":       u.Email,
			"displayName": u.DisplayName,
		},
		"csrfToken": csrf.TokenFromContext(r.Context()),
	})
}

func (h *Handler) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.tasks.ListLists(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]listJSON, 0, len(lists))
	for _, l := range lists {
		out = append(out, toListJSON(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	l, err := h.tasks.CreateList(r.Context(), principal(r), tasks.ListInput{Name: req.Name, Color: req.Color})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListJSON(*l))
}

func (h *Handler) getList(w http.ResponseWriter, r *http.Request) {
	l, err := h.tasks.GetList(r.Context(), principal(r), chi.URLParam(r, "listID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListJSON(*l))
}

func (h *Handler) updateList(w http.ResponseWriter, r *http.Request) {
	var req listPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	l, err := h.tasks.UpdateList(r.Context(), principal(r), chi.URLParam(r, "listID"), tasks.ListPatch{Name: req.Name, Color: req.Color})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListJSON(*l))
}

func (h *Handler) deleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.DeleteList(r.Context(), principal(r), chi.URLParam(r, "listID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCollaborators(w http.ResponseWriter, r *http.Request) {
	collabs, err := h.tasks.ListCollaborators(r.Context(), principal(r), chi.URLParam(r, "listID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]collaboratorJSON, 0, len(collabs))
	for _, c := range collabs {
		out = append(out, toCollaboratorJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) inviteCollaborator(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.tasks.InviteCollaborator(r.Context(), principal(r), chi.URLParam(r, "listID"),
		tasks.InviteInput{UserID: req.UserID, Email: req.Email, Role: req.Role})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaboratorJSON(*c))
}

func (h *Handler) removeCollaborator(w http.ResponseWriter, r *http.Request) {
	err := h.tasks.RemoveCollaborator(r.Context(), principal(r), chi.URLParam(r, "listID"), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
