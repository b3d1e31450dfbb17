package storetest

import (
	"context"
	"testing"

	"github.com/jw6ventures/taskcal/internal/store"
)

// SeedUser creates a user whose subject, email and display name derive from name.
func SeedUser(t testing.TB, s *store.Store, name string) *store.User {
	t.Helper()
	u, err := s.Users.UpsertOAuthUser(context.Background(), "sub-"+name, name+"@example.com", name)
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

// SeedList creates a list owned by ownerID.
func SeedList(t testing.TB, s *store.Store, ownerID, name string) *store.List {
	t.Helper()
	l, err := s.Lists.Create(context.Background(), store.List{OwnerID: ownerID, Name: name})
	if err != nil {
		t.Fatalf("seed list %s: %v", name, err)
	}
	return l
}

// SeedGrant gives userID the role on listID.
func SeedGrant(t testing.TB, s *store.Store, listID, userID string, role store.GrantRole) {
	t.Helper()
	if _, err := s.Collaborators.Upsert(context.Background(), store.Collaborator{ListID: listID, UserID: userID, Role: role}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}
}

// SeedTask stores task as given, filling defaults for priority and status.
func SeedTask(t testing.TB, s *store.Store, task store.Task) *store.Task {
	t.Helper()
	if task.Priority == "" {
		task.Priority = store.PriorityMedium
	}
	if task.Status == "" {
		task.Status = store.StatusTodo
	}
	task.IsCompleted = task.Status == store.StatusDone
	created, err := s.Tasks.Create(context.Background(), task)
	if err != nil {
		t.Fatalf("seed task %s: %v", task.Title, err)
	}
	return created
}
