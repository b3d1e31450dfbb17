package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter tasks.ListFilter
	if id := q.Get("listId"); id != "" {
		filter.ListID = &id
	}
	if v := q.Get("withDueDate"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(w, r, apperr.Validation("withDueDate must be a boolean"))
			return
		}
		filter.WithDueDate = b
	}
	items, err := h.tasks.ListTasks(r.Context(), principal(r), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]taskJSON, 0, len(items))
	for _, t := range items {
		out = append(out, toTaskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	v, err := h.tasks.CreateTask(r.Context(), principal(r), tasks.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		Status:      req.Status,
		IsCompleted: req.IsCompleted,
		ListID:      req.ListID,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskViewJSON(v))
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := h.tasks.GetTask(r.Context(), principal(r), chi.URLParam(r, "taskID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskViewJSON(v))
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	var req taskPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	v, err := h.tasks.UpdateTask(r.Context(), principal(r), chi.URLParam(r, "taskID"), req.patch())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskViewJSON(v))
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.DeleteTask(r.Context(), principal(r), chi.URLParam(r, "taskID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) taskActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.tasks.TaskActivity(r.Context(), principal(r), chi.URLParam(r, "taskID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]activityJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toActivityJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	a, err := h.tasks.AddComment(r.Context(), principal(r), chi.URLParam(r, "taskID"), req.Body)
	if err != nil {
		fail(w, r, err)
		return
	}
	u, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusCreated, toActivityJSON(activity.Entry{Activity: *a, Actor: activity.ActorLabel(a.ActorID, u)}))
}
