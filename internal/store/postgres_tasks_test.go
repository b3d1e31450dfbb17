package store

import (
	"strings"
	"testing"
)

func TestBuildAccessibleTasksQuery(t *testing.T) {
	listID := "list-1"
	tests := []struct {
		name     string
		filter   TaskFilter
		contains []string
		absent   []string
		args     int
	}{
		{
			name:     "visibility only",
			contains: []string{taskVisible, "LEFT JOIN list_collaborators c"},
			absent:   []string{"t.list_id = $2", "due_date IS NOT NULL"},
			args:     1,
		},
		{
			name:     "list filter",
			filter:   TaskFilter{ListID: &listID},
			contains: []string{taskVisible, "t.list_id = $2"},
			args:     2,
		},
		{
			name:     "sync eligible",
			filter:   TaskFilter{SyncEligible: true},
			contains: []string{"t.due_date IS NOT NULL", "t.is_completed = FALSE"},
			args:     1,
		},
		{
			name:     "with due date",
			filter:   TaskFilter{WithDueDate: true},
			contains: []string{"t.due_date IS NOT NULL"},
			absent:   []string{"is_completed = FALSE"},
			args:     1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, args := buildAccessibleTasksQuery("user-1", tc.filter)
			for _, want := range tc.contains {
				if !strings.Contains(q, want) {
					t.Fatalf("expected query to contain %q:\n%s", want, q)
				}
			}
			for _, unwanted := range tc.absent {
				if strings.Contains(q, unwanted) {
					t.Fatalf("expected query not to contain %q:\n%s", unwanted, q)
				}
			}
			if len(args) != tc.args {
				t.Fatalf("expected %d args, got %d", tc.args, len(args))
			}
			if args[0] != "user-1" {
				t.Fatalf("principal must be $1, got %v", args[0])
			}
		})
	}
}

func TestGrantPtr(t *testing.T) {
	if grantPtr(nil) != nil {
		t.Fatalf("expected nil grant")
	}
	role := "EDITOR"
	if g := grantPtr(&role); g == nil || *g != GrantEditor {
		t.Fatalf("expected editor grant, got %v", g)
	}
}

func TestUpsertConnectionResetsOnAccountChange(t *testing.T) {
	for _, want := range []string{
		"DELETE FROM event_mappings m USING prev",
		"lower(prev.account_email) <> lower($7)",
		"THEN NULL\n\t\tELSE integration_connections.calendar_id",
		"THEN EXCLUDED.refresh_token\n\t\tELSE COALESCE(EXCLUDED.refresh_token, integration_connections.refresh_token)",
	} {
		if !strings.Contains(upsertConnectionSQL, want) {
			t.Fatalf("upsert SQL missing %q", want)
		}
	}
}
