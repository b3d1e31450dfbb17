// Package activity keeps the per-task audit trail.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/taskcal/internal/metrics"
	"github.com/jw6ventures/taskcal/internal/store"
)

// SystemActor labels entries with no acting user, such as webhook-created tasks.
const SystemActor = "System"

// Recorder appends activity entries. Writes are best effort: the primary operation has
// already succeeded when Record runs, so failures are logged and counted but never
// returned.
type Recorder struct {
	repo   store.ActivityRepository
	users  store.UserRepository
	logger *slog.Logger
}

// NewRecorder builds a Recorder. A nil logger falls back to slog.Default.
func NewRecorder(repo store.ActivityRepository, users store.UserRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, users: users, logger: logger}
}

// Record appends one entry. actorID nil marks a system action.
func (r *Recorder) Record(ctx context.Context, taskID string, actorID *string, typ store.ActivityType, message string, metadata map[string]any) {
	err := r.repo.Append(ctx, store.Activity{
		TaskID:   taskID,
		ActorID:  actorID,
		Type:     typ,
		Message:  message,
		Metadata: metadata,
	})
	if err != nil {
		metrics.IncActivityWriteFailure()
		r.logger.ErrorContext(ctx, "activity write failed", "task_id", taskID, "type", string(typ), "err", err)
	}
}

// Comment stores a comment entry. The comment is the operation itself, so unlike
// Record a failed write is returned.
func (r *Recorder) Comment(ctx context.Context, taskID, actorID, body string) (*store.Activity, error) {
	a := store.Activity{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ActorID:   &actorID,
		Type:      store.ActivityCommentAdded,
		Message:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.Append(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// TypeForUpdate picks STATUS_CHANGED when status or completion differ from the
// pre-image, TASK_UPDATED otherwise.
func TypeForUpdate(before, after store.Task) store.ActivityType {
	if StatusChanged(before, after) {
		return store.ActivityStatusChanged
	}
	return store.ActivityTaskUpdated
}

// StatusChanged reports whether the update touched status or completion.
func StatusChanged(before, after store.Task) bool {
	return before.Status != after.Status || before.IsCompleted != after.IsCompleted
}

// Entry is an activity row with a display label for its actor.
type Entry struct {
	store.Activity
	Actor string
}

// List returns a task's entries newest first with actor labels resolved.
func (r *Recorder) List(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := r.repo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	entries := make([]Entry, 0, len(rows))
	for _, a := range rows {
		label, err := r.actorLabel(ctx, a.ActorID, labels)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Activity: a, Actor: label})
	}
	return entries, nil
}

func (r *Recorder) actorLabel(ctx context.Context, actorID *string, cache map[string]string) (string, error) {
	if actorID == nil {
		return SystemActor, nil
	}
	if label, ok := cache[*actorID]; ok {
		return label, nil
	}
	u, err := r.users.GetByID(ctx, *actorID)
	if err != nil {
		return "", err
	}
	label := ActorLabel(actorID, u)
	cache[*actorID] = label
	return label, nil
}

// ActorLabel renders the display name of an actor. Deleted users fall back to their id.
func ActorLabel(actorID *string, u *store.User) string {
	switch {
	case actorID == nil:
		return SystemActor
	case u == nil:
		return *actorID
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	}
	return *actorID
}
