package tasks

import (
	"context"
	"errors"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

// ListInput creates a list.
type ListInput struct {
	Name  string
	Color *string
}

// ListPatch changes a list. An empty Color clears it.
type ListPatch struct {
	Name  *string
	Color *string
}

// ListView is a list with the caller's role on it.
type ListView struct {
	store.List
	Role access.Role
}

// CreateList creates a list owned by principal.
func (s *Service) CreateList(ctx context.Context, principal string, in ListInput) (*ListView, error) {
	name, err := requireText("name", in.Name, maxListNameLength)
	if err != nil {
		return nil, err
	}
	color, err := normalizeColor(in.Color)
	if err != nil {
		return nil, err
	}
	list, err := s.store.Lists.Create(ctx, store.List{OwnerID: principal, Name: name, Color: color})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Validation("a list named %q already exists", name)
		}
		return nil, err
	}
	return &ListView{List: *list, Role: access.RoleOwner}, nil
}

// GetList returns a list visible to principal.
func (s *Service) GetList(ctx context.Context, principal, listID string) (*ListView, error) {
	la, err := s.access.ResolveListAccess(ctx, listID, principal)
	if err != nil {
		return nil, err
	}
	return &ListView{List: la.List, Role: la.Role}, nil
}

// ListLists returns every list principal owns or collaborates on.
func (s *Service) ListLists(ctx context.Context, principal string) ([]ListView, error) {
	rows, err := s.store.Lists.ListAccessible(ctx, principal)
	if err != nil {
		return nil, err
	}
	views := make([]ListView, 0, len(rows))
	for _, row := range rows {
		views = append(views, ListView{List: row.List, Role: access.ResolveList(principal, row.OwnerID, row.Grant)})
	}
	return views, nil
}

// UpdateList renames or recolors a list. Owner only.
func (s *Service) UpdateList(ctx context.Context, principal, listID string, patch ListPatch) (*ListView, error) {
	la, err := s.access.ResolveListAccess(ctx, listID, principal)
	if err != nil {
		return nil, err
	}
	if err := access.Require(la.Role, access.RoleOwner); err != nil {
		return nil, err
	}
	list := la.List
	if patch.Name != nil {
		if list.Name, err = requireText("name", *patch.Name, maxListNameLength); err != nil {
			return nil, err
		}
	}
	if patch.Color != nil {
		if list.Color, err = normalizeColor(patch.Color); err != nil {
			return nil, err
		}
	}
	updated, err := s.store.Lists.Update(ctx, list)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Validation("a list named %q already exists", list.Name)
		}
		return nil, err
	}
	if updated == nil {
		return nil, apperr.NotFoundOrForbidden()
	}
	return &ListView{List: *updated, Role: access.RoleOwner}, nil
}

// DeleteList removes a list. Its grants go with it; its tasks stay with their owners,
// unlisted.
func (s *Service) DeleteList(ctx context.Context, principal, listID string) error {
	la, err := s.access.ResolveListAccess(ctx, listID, principal)
	if err != nil {
		return err
	}
	if err := access.Require(la.Role, access.RoleOwner); err != nil {
		return err
	}
	return s.store.Lists.Delete(ctx, listID)
}

// EnsureList returns ownerID's list called name, creating it when missing.
func (s *Service) EnsureList(ctx context.Context, ownerID, name string) (*store.List, error) {
	name, err := requireText("listName", name, maxListNameLength)
	if err != nil {
		return nil, err
	}
	if list, err := s.store.Lists.GetByOwnerAndName(ctx, ownerID, name); err != nil || list != nil {
		return list, err
	}
	list, err := s.store.Lists.Create(ctx, store.List{OwnerID: ownerID, Name: name})
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent create.
		return s.store.Lists.GetByOwnerAndName(ctx, ownerID, name)
	}
	return list, err
}
