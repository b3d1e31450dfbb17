package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/store"
)

func TestListAccessibleMatchesSingleTaskResolution(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	bob := SeedUser(t, s, "bob")
	carol := SeedUser(t, s, "carol")

	shared := SeedList(t, s, alice.ID, "Shared")
	private := SeedList(t, s, alice.ID, "Private")
	SeedGrant(t, s, shared.ID, bob.ID, store.GrantViewer)

	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tasks := []*store.Task{
		SeedTask(t, s, store.Task{OwnerID: alice.ID, ListID: &shared.ID, Title: "shared", DueDate: &due}),
		SeedTask(t, s, store.Task{OwnerID: alice.ID, ListID: &private.ID, Title: "private"}),
		SeedTask(t, s, store.Task{OwnerID: alice.ID, Title: "unlisted"}),
		SeedTask(t, s, store.Task{OwnerID: bob.ID, Title: "bob's own"}),
	}

	for _, u := range []*store.User{alice, bob, carol} {
		visible, err := s.Tasks.ListAccessible(ctx, u.ID, store.TaskFilter{})
		if err != nil {
			t.Fatalf("list accessible: %v", err)
		}
		seen := map[string]bool{}
		for _, task := range visible {
			seen[task.ID] = true
		}
		for _, task := range tasks {
			tf, err := s.Tasks.GetFacts(ctx, task.ID, u.ID)
			if err != nil {
				t.Fatalf("get facts: %v", err)
			}
			single := access.Resolve(access.FactsFor(u.ID, tf)) != access.RoleNone
			if single != seen[task.ID] {
				t.Fatalf("%s: task %q single=%v bulk=%v", u.DisplayName, task.Title, single, seen[task.ID])
			}
		}
	}

	bobTasks, _ := s.Tasks.ListAccessible(ctx, bob.ID, store.TaskFilter{})
	if len(bobTasks) != 2 {
		t.Fatalf("expected bob to see shared + own task, got %d", len(bobTasks))
	}
	if bobTasks[0].Title != "shared" {
		t.Fatalf("expected dated task first, got %q", bobTasks[0].Title)
	}
}

func TestDeleteListUnsetsTasksAndDropsGrants(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	bob := SeedUser(t, s, "bob")
	list := SeedList(t, s, alice.ID, "Groceries")
	SeedGrant(t, s, list.ID, bob.ID, store.GrantEditor)
	task := SeedTask(t, s, store.Task{OwnerID: alice.ID, ListID: &list.ID, Title: "milk"})

	if err := s.Lists.Delete(ctx, list.ID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	got, _ := s.Tasks.GetByID(ctx, task.ID)
	if got == nil || got.ListID != nil {
		t.Fatalf("expected task kept without list, got %+v", got)
	}
	if c, _ := s.Collaborators.Get(ctx, list.ID, bob.ID); c != nil {
		t.Fatalf("expected grant removed with list")
	}
}

func TestListNameUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	bob := SeedUser(t, s, "bob")
	SeedList(t, s, alice.ID, "Home")

	if _, err := s.Lists.Create(ctx, store.List{OwnerID: alice.ID, Name: "Home"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.Lists.Create(ctx, store.List{OwnerID: bob.ID, Name: "Home"}); err != nil {
		t.Fatalf("other owner may reuse the name: %v", err)
	}
}

func TestSetCalendarIDKeepsFirstWriter(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	conn, err := s.Connections.Upsert(ctx, store.Connection{UserID: alice.ID, Provider: "google", AccessToken: "plain:a"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first, _ := s.Connections.SetCalendarID(ctx, conn.ID, "cal-1")
	second, _ := s.Connections.SetCalendarID(ctx, conn.ID, "cal-2")
	if first != "cal-1" || second != "cal-1" {
		t.Fatalf("expected cal-1 both times, got %q and %q", first, second)
	}

	// Reconnecting keeps the stored calendar and the previous refresh token.
	refresh := "plain:r"
	if err := s.Connections.UpdateTokens(ctx, conn.ID, "plain:b", &refresh, nil); err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	again, _ := s.Connections.Upsert(ctx, store.Connection{UserID: alice.ID, Provider: "google", AccessToken: "plain:c"})
	if again.CalendarID == nil || *again.CalendarID != "cal-1" {
		t.Fatalf("expected calendar id kept, got %v", again.CalendarID)
	}
	if again.RefreshToken == nil || *again.RefreshToken != refresh {
		t.Fatalf("expected refresh token kept, got %v", again.RefreshToken)
	}
}

func TestDeleteConnectionDropsMappings(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	conn, _ := s.Connections.Upsert(ctx, store.Connection{UserID: alice.ID, Provider: "google", AccessToken: "plain:a"})
	_ = s.EventMappings.Upsert(ctx, store.EventMapping{ConnectionID: conn.ID, TaskID: "t1", EventID: "e1"})

	if err := s.Connections.Delete(ctx, alice.ID, "google"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ms, _ := s.EventMappings.ListByConnection(ctx, conn.ID); len(ms) != 0 {
		t.Fatalf("expected mappings cascaded, got %d", len(ms))
	}
}

func TestReconnectToAnotherAccountResetsCalendar(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := SeedUser(t, s, "alice")
	refresh := "plain:r-old"
	conn, _ := s.Connections.Upsert(ctx, store.Connection{UserID: alice.ID, Provider: "google", AccessToken: "plain:a", RefreshToken: &refresh, AccountEmail: "alice@gmail.com"})
	_, _ = s.Connections.SetCalendarID(ctx, conn.ID, "cal-old")
	_ = s.EventMappings.Upsert(ctx, store.EventMapping{ConnectionID: conn.ID, TaskID: "t1", EventID: "e1"})

	tests := []struct {
		name        string
		email       string
		wantCal     bool
		wantRefresh bool
	}{
		{"same account, different case", "Alice@Gmail.com", true, true},
		{"different account", "work@example.com", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			again, err := s.Connections.Upsert(ctx, store.Connection{UserID: alice.ID, Provider: "google", AccessToken: "plain:b", AccountEmail: tc.email})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if (again.CalendarID != nil) != tc.wantCal {
				t.Fatalf("calendar id = %v, want kept=%v", again.CalendarID, tc.wantCal)
			}
			if (again.RefreshToken != nil) != tc.wantRefresh {
				t.Fatalf("refresh token = %v, want kept=%v", again.RefreshToken, tc.wantRefresh)
			}
			ms, _ := s.EventMappings.ListByConnection(ctx, conn.ID)
			if (len(ms) == 1) != tc.wantCal {
				t.Fatalf("mappings = %d, want kept=%v", len(ms), tc.wantCal)
			}
		})
	}
}
