package activity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/store/storetest"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, store.Activity) error {
	return errors.New("disk full")
}

func (failingRepo) ListByTask(context.Context, string) ([]store.Activity, error) {
	return nil, nil
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewRecorder(failingRepo{}, nil, logger)

	r.Record(context.Background(), "task-1", nil, store.ActivityTaskCreated, "created", nil)

	if !strings.Contains(buf.String(), "activity write failed") || !strings.Contains(buf.String(), "task-1") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestTypeForUpdate(t *testing.T) {
	base := store.Task{Status: store.StatusTodo}
	tests := []struct {
		name  string
		after store.Task
		want  store.ActivityType
	}{
		{"title only", store.Task{Title: "new", Status: store.StatusTodo}, store.ActivityTaskUpdated},
		{"status change", store.Task{Status: store.StatusInProgress}, store.ActivityStatusChanged},
		{"completion change", store.Task{Status: store.StatusDone, IsCompleted: true}, store.ActivityStatusChanged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TypeForUpdate(base, tc.after); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestListNewestFirstWithActorLabels(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	alice := storetest.SeedUser(t, s, "alice")
	r := NewRecorder(s.Activities, s.Users, nil)

	r.Record(ctx, "task-1", nil, store.ActivityTaskCreated, "created by webhook", nil)
	r.Record(ctx, "task-1", &alice.ID, store.ActivityCommentAdded, "looks good", map[string]any{"length": 10})
	r.Record(ctx, "task-2", &alice.ID, store.ActivityTaskCreated, "other task", nil)

	entries, err := r.List(ctx, "task-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != store.ActivityCommentAdded || entries[0].Actor != "alice" {
		t.Fatalf("expected newest comment by alice first, got %+v", entries[0])
	}
	if entries[1].Actor != SystemActor {
		t.Fatalf("expected system actor, got %q", entries[1].Actor)
	}
}

func TestActorLabelFallbacks(t *testing.T) {
	id := "u-1"
	if got := ActorLabel(&id, nil); got != id {
		t.Fatalf("deleted user: got %q", got)
	}
	if got := ActorLabel(&id, &store.User{Email: "a@example.com"}); got != "a@example.com" {
		t.Fatalf("email fallback: got %q", got)
	}
}
