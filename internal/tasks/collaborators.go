package tasks

import (
	"context"
	"strings"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

// InviteInput names the invitee by user id or by email.
type InviteInput struct {
	UserID string
	Email  string
	Role   store.GrantRole
}

// CollaboratorView is a grant with the collaborator's profile.
type CollaboratorView struct {
	store.Collaborator
	Email       string
	DisplayName string
}

// InviteCollaborator grants a role on a list. Re-inviting changes the role.
func (s *Service) InviteCollaborator(ctx context.Context, principal, listID string, in InviteInput) (*CollaboratorView, error) {
	la, err := s.access.ResolveListAccess(ctx, listID, principal)
	if err != nil {
		return nil, err
	}
	if err := access.Require(la.Role, access.RoleOwner); err != nil {
		return nil, err
	}
	role := store.GrantRole(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	if !role.Valid() {
		return nil, apperr.Validation("role must be EDITOR or VIEWER")
	}

	var user *store.User
	switch {
	case in.UserID != "":
		user, err = s.store.Users.GetByID(ctx, in.UserID)
	case strings.TrimSpace(in.Email) != "":
		user, err = s.store.Users.GetByEmail(ctx, in.Email)
	default:
		return nil, apperr.Validation("userId or email is required")
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Validation("no user found for that invitation")
	}
	if user.ID == la.List.OwnerID {
		return nil, apperr.Validation("the list owner cannot be added as a collaborator")
	}

	c, err := s.store.Collaborators.Upsert(ctx, store.Collaborator{ListID: listID, UserID: user.ID, Role: role})
	if err != nil {
		return nil, err
	}
	return &CollaboratorView{Collaborator: *c, Email: user.Email, DisplayName: user.DisplayName}, nil
}

// RemoveCollaborator revokes a grant. The owner may remove anyone; a collaborator may
// only remove themself.
func (s *Service) RemoveCollaborator(ctx context.Context, principal, listID, userID string) error {
	la, err := s.access.ResolveListAccess(ctx, listID, principal)
	if err != nil {
		return err
	}
	if la.Role != access.RoleOwner && principal != userID {
		return apperr.InsufficientRole("only the list owner can remove other collaborators")
	}
	return s.store.Collaborators.Delete(ctx, listID, userID)
}

// ListCollaborators returns a list's grants to anyone with access to the list.
func (s *Service) ListCollaborators(ctx context.Context, principal, listID string) ([]CollaboratorView, error) {
	if _, err := s.access.ResolveListAccess(ctx, listID, principal); err != nil {
		return nil, err
	}
	grants, err := s.store.Collaborators.ListByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	views := make([]CollaboratorView, 0, len(grants))
	for _, g := range grants {
		view := CollaboratorView{Collaborator: g}
		u, err := s.store.Users.GetByID(ctx, g.UserID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			view.Email, view.DisplayName = u.Email, u.DisplayName
		}
		views = append(views, view)
	}
	return views, nil
}
