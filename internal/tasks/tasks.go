package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

// TaskInput creates a task. Zero Priority and Status take the defaults.
type TaskInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    store.Priority
	Status      store.Status
	IsCompleted *bool
	ListID      *string
}

// TaskPatch changes a task. Nil fields are left alone; DueDateSet and ListIDSet let a
// nil DueDate or ListID clear the field.
type TaskPatch struct {
	Title       *string
	Description *string
	DueDateSet  bool
	DueDate     *time.Time
	Priority    *store.Priority
	Status      *store.Status
	IsCompleted *bool
	ListIDSet   bool
	ListID      *string
}

// TaskView is a task with the caller's role on it.
type TaskView struct {
	store.Task
	Role access.Role
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	ListID      *string
	WithDueDate bool
}

// CreateTask creates a task as principal.
func (s *Service) CreateTask(ctx context.Context, principal string, in TaskInput) (*TaskView, error) {
	return s.createTask(ctx, principal, &principal, in)
}

// CreateSystemTask creates a task for principal on behalf of an automated source; the
// activity entry carries no actor.
func (s *Service) CreateSystemTask(ctx context.Context, principal string, in TaskInput) (*TaskView, error) {
	return s.createTask(ctx, principal, nil, in)
}

// ValidateTaskInput runs the checks of a task create that need no store access, so
// callers can reject a payload before writing anything else.
func ValidateTaskInput(in TaskInput) error {
	if _, err := requireText("title", in.Title, maxTitleLength); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return apperr.Validation("priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}
	if in.Status != "" && !in.Status.Valid() {
		return apperr.Validation("status must be one of TODO, IN_PROGRESS, DONE")
	}
	return nil
}

func (s *Service) createTask(ctx context.Context, principal string, actor *string, in TaskInput) (*TaskView, error) {
	if err := ValidateTaskInput(in); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	priority := in.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}
	var status *store.Status
	if in.Status != "" {
		status = &in.Status
	}
	finalStatus, completed := NormalizeCompletion(status, in.IsCompleted, store.StatusTodo)

	ownerID := principal
	role := access.RoleOwner
	if in.ListID != nil {
		la, err := s.access.ResolveListAccess(ctx, *in.ListID, principal)
		if err != nil {
			return nil, err
		}
		if !access.CanEdit(la.Role) {
			return nil, apperr.InsufficientRole("viewers cannot add tasks to this list")
		}
		// Tasks in a list belong to the list owner, whoever adds them.
		ownerID = la.List.OwnerID
		role = la.Role
	}

	created, err := s.store.Tasks.Create(ctx, store.Task{
		OwnerID:     ownerID,
		ListID:      in.ListID,
		Title:       title,
		Description: in.Description,
		DueDate:     utcPtr(in.DueDate),
		Priority:    priority,
		Status:      finalStatus,
		IsCompleted: completed,
	})
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, created.ID, actor, store.ActivityTaskCreated, fmt.Sprintf("Task %q created", created.Title), nil)
	return &TaskView{Task: *created, Role: role}, nil
}

// GetTask returns a task visible to principal.
func (s *Service) GetTask(ctx context.Context, principal, taskID string) (*TaskView, error) {
	ta, err := s.access.ResolveTaskAccess(ctx, taskID, principal)
	if err != nil {
		return nil, err
	}
	return &TaskView{Task: ta.Task, Role: ta.Role}, nil
}

// ListTasks returns the tasks visible to principal.
func (s *Service) ListTasks(ctx context.Context, principal string, filter ListFilter) ([]store.Task, error) {
	if filter.ListID != nil {
		if _, err := s.access.ResolveListAccess(ctx, *filter.ListID, principal); err != nil {
			return nil, err
		}
	}
	return s.store.Tasks.ListAccessible(ctx, principal, store.TaskFilter{ListID: filter.ListID, WithDueDate: filter.WithDueDate})
}

// UpdateTask applies patch for an editor or owner.
func (s *Service) UpdateTask(ctx context.Context, principal, taskID string, patch TaskPatch) (*TaskView, error) {
	ta, err := s.access.ResolveTaskAccess(ctx, taskID, principal)
	if err != nil {
		return nil, err
	}
	if !access.CanEdit(ta.Role) {
		return nil, apperr.InsufficientRole("viewers cannot modify tasks")
	}
	if patch.ListIDSet {
		if err := s.access.CheckMove(ctx, ta, patch.ListID, principal); err != nil {
			return nil, err
		}
	}

	before := ta.Task
	after := before
	var changed []string
	if patch.Title != nil {
		if after.Title, err = requireText("title", *patch.Title, maxTitleLength); err != nil {
			return nil, err
		}
		changed = append(changed, "title")
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return nil, err
		}
		after.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.DueDateSet {
		after.DueDate = utcPtr(patch.DueDate)
		changed = append(changed, "dueDate")
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return nil, apperr.Validation("priority must be one of LOW, MEDIUM, HIGH, URGENT")
		}
		after.Priority = *patch.Priority
		changed = append(changed, "priority")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperr.Validation("status must be one of TODO, IN_PROGRESS, DONE")
	}
	after.Status, after.IsCompleted = NormalizeCompletion(patch.Status, patch.IsCompleted, before.Status)
	if patch.ListIDSet {
		after.ListID = patch.ListID
		changed = append(changed, "listId")
	}

	updated, err := s.store.Tasks.Update(ctx, after)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.NotFoundOrForbidden()
	}

	typ := activity.TypeForUpdate(before, *updated)
	message := "Task updated"
	metadata := map[string]any{}
	if typ == store.ActivityStatusChanged {
		message = fmt.Sprintf("Status changed from %s to %s", before.Status, updated.Status)
		metadata["from"] = string(before.Status)
		metadata["to"] = string(updated.Status)
	}
	if len(changed) > 0 {
		metadata["fields"] = strings.Join(changed, ",")
	}
	s.activity.Record(ctx, updated.ID, &principal, typ, message, metadata)
	return &TaskView{Task: *updated, Role: ta.Role}, nil
}

// DeleteTask removes a task. Editors may delete, not only owners.
func (s *Service) DeleteTask(ctx context.Context, principal, taskID string) error {
	ta, err := s.access.ResolveTaskAccess(ctx, taskID, principal)
	if err != nil {
		return err
	}
	if !access.CanEdit(ta.Role) {
		return apperr.InsufficientRole("viewers cannot delete tasks")
	}
	return s.store.Tasks.Delete(ctx, taskID)
}

// AddComment adds a comment. Any role with access may comment.
func (s *Service) AddComment(ctx context.Context, principal, taskID, body string) (*store.Activity, error) {
	if _, err := s.access.ResolveTaskAccess(ctx, taskID, principal); err != nil {
		return nil, err
	}
	body, err := requireText("comment", body, maxCommentLength)
	if err != nil {
		return nil, err
	}
	return s.activity.Comment(ctx, taskID, principal, body)
}

// TaskActivity returns a task's audit trail, newest first.
func (s *Service) TaskActivity(ctx context.Context, principal, taskID string) ([]activity.Entry, error) {
	if _, err := s.access.ResolveTaskAccess(ctx, taskID, principal); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, taskID)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
