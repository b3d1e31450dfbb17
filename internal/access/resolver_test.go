package access_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/store/storetest"
)

func TestResolveTaskAccessHidesExistence(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	alice := storetest.SeedUser(t, s, "alice")
	mallory := storetest.SeedUser(t, s, "mallory")
	task := storetest.SeedTask(t, s, store.Task{OwnerID: alice.ID, Title: "secret"})

	r := access.NewResolver(s)
	_, errMissing := r.ResolveTaskAccess(ctx, "does-not-exist", mallory.ID)
	_, errHidden := r.ResolveTaskAccess(ctx, task.ID, mallory.ID)
	for _, err := range []error{errMissing, errHidden} {
		if !errors.Is(err, apperr.ErrNotFoundOrForbidden) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if errMissing.Error() != errHidden.Error() {
		t.Fatalf("missing and forbidden must look identical: %q vs %q", errMissing, errHidden)
	}
}

func TestCheckMove(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	owner := storetest.SeedUser(t, s, "owner")
	editor := storetest.SeedUser(t, s, "editor")
	src := storetest.SeedList(t, s, owner.ID, "Source")
	dst := storetest.SeedList(t, s, owner.ID, "Destination")
	foreign := storetest.SeedList(t, s, editor.ID, "Editor's")
	viewOnly := storetest.SeedList(t, s, editor.ID, "View only")
	storetest.SeedGrant(t, s, src.ID, editor.ID, store.GrantEditor)
	storetest.SeedGrant(t, s, viewOnly.ID, owner.ID, store.GrantViewer)
	task := storetest.SeedTask(t, s, store.Task{OwnerID: owner.ID, ListID: &src.ID, Title: "move me"})

	r := access.NewResolver(s)
	asOwner, err := r.ResolveTaskAccess(ctx, task.ID, owner.ID)
	if err != nil {
		t.Fatalf("owner access: %v", err)
	}
	asEditor, err := r.ResolveTaskAccess(ctx, task.ID, editor.ID)
	if err != nil {
		t.Fatalf("editor access: %v", err)
	}

	tests := []struct {
		name      string
		current   *access.TaskAccess
		principal string
		dest      *string
		want      error
	}{
		{"editor resubmits same list", asEditor, editor.ID, &src.ID, nil},
		{"editor cannot relocate", asEditor, editor.ID, &foreign.ID, apperr.ErrInsufficientRole},
		{"editor cannot unlist", asEditor, editor.ID, nil, apperr.ErrInsufficientRole},
		{"owner moves to own list", asOwner, owner.ID, &dst.ID, nil},
		{"owner unlists", asOwner, owner.ID, nil, nil},
		{"owner needs edit on destination", asOwner, owner.ID, &viewOnly.ID, apperr.ErrInsufficientRole},
		{"owner cannot see destination", asOwner, owner.ID, &foreign.ID, apperr.ErrNotFoundOrForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.CheckMove(ctx, tc.current, tc.dest, tc.principal)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected move allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestResolveListAccessRoles(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	owner := storetest.SeedUser(t, s, "owner")
	viewer := storetest.SeedUser(t, s, "viewer")
	list := storetest.SeedList(t, s, owner.ID, "Plans")
	storetest.SeedGrant(t, s, list.ID, viewer.ID, store.GrantViewer)

	r := access.NewResolver(s)
	la, err := r.ResolveListAccess(ctx, list.ID, viewer.ID)
	if err != nil || la.Role != access.RoleViewer {
		t.Fatalf("expected viewer, got %+v, %v", la, err)
	}
	la, err = r.ResolveListAccess(ctx, list.ID, owner.ID)
	if err != nil || la.Role != access.RoleOwner {
		t.Fatalf("expected owner, got %+v, %v", la, err)
	}
}
