package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

// optional tells an absent JSON field apart from an explicit null.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(b, []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type listJSON struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Color     *string   `json:"color"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toListJSON(v tasks.ListView) listJSON {
	return listJSON{
		ID:        v.ID,
		OwnerID:   v.OwnerID,
		Name:      v.Name,
		Color:     v.Color,
		Role:      v.Role.String(),
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

type taskJSON struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	ListID      *string    `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	IsCompleted bool       `json:"isCompleted"`
	Role        string     `json:"role,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toTaskJSON(t store.Task) taskJSON {
	return taskJSON{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		ListID:      t.ListID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		IsCompleted: t.IsCompleted,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTaskViewJSON(v *tasks.TaskView) taskJSON {
	out := toTaskJSON(v.Task)
	out.Role = v.Role.String()
	return out
}

type collaboratorJSON struct {
	ListID      string    `json:"listId"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toCollaboratorJSON(c tasks.CollaboratorView) collaboratorJSON {
	return collaboratorJSON{
		ListID:      c.ListID,
		UserID:      c.UserID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Role:        string(c.Role),
		CreatedAt:   c.CreatedAt,
	}
}

type activityJSON struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	ActorID   *string        `json:"actorId"`
	Actor     string         `json:"actor"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toActivityJSON(e activity.Entry) activityJSON {
	return activityJSON{
		ID:        e.ID,
		TaskID:    e.TaskID,
		ActorID:   e.ActorID,
		Actor:     e.Actor,
		Type:      string(e.Type),
		Message:   e.Message,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

type listRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

type listPatchRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

type inviteRequest struct {
	UserID string          `json:"userId"`
	Email  string          `json:"email"`
	Role   store.GrantRole `json:"role"`
}

type taskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	DueDate     *time.Time     `json:"dueDate"`
	Priority    store.Priority `json:"priority"`
	Status      store.Status   `json:"status"`
	IsCompleted *bool          `json:"isCompleted"`
	ListID      *string        `json:"listId"`
}

type taskPatchRequest struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	DueDate     optional[time.Time] `json:"dueDate"`
	Priority    *store.Priority     `json:"priority"`
	Status      *store.Status       `json:"status"`
	IsCompleted *bool               `json:"isCompleted"`
	ListID      optional[string]    `json:"listId"`
}

func (p taskPatchRequest) patch() tasks.TaskPatch {
	return tasks.TaskPatch{
		Title:       p.Title,
		Description: p.Description,
		DueDateSet:  p.DueDate.Set,
		DueDate:     p.DueDate.Value,
		Priority:    p.Priority,
		Status:      p.Status,
		IsCompleted: p.IsCompleted,
		ListIDSet:   p.ListID.Set,
		ListID:      p.ListID.Value,
	}
}

type commentRequest struct {
	Body string `json:"body"`
}
