// Package access decides what a principal may do with a task or a list.
package access

import (
	"context"
	"fmt"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
)

// Role is the effective permission level of a principal. Roles are totally ordered.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "VIEWER"
	case RoleEditor:
		return "EDITOR"
	case RoleOwner:
		return "OWNER"
	default:
		return "NONE"
	}
}

// CanEdit reports whether r may mutate a task or its list contents.
func CanEdit(r Role) bool {
	return r == RoleOwner || r == RoleEditor
}

// FromGrant converts a stored collaborator grant to a role.
func FromGrant(g *store.GrantRole) Role {
	if g == nil {
		return RoleNone
	}
	switch *g {
	case store.GrantEditor:
		return RoleEditor
	case store.GrantViewer:
		return RoleViewer
	}
	return RoleNone
}

// Facts are the relationships that decide a principal's role on a task.
type Facts struct {
	Principal   string
	TaskOwnerID string
	ListID      *string
	ListOwnerID *string
	Grant       *store.GrantRole
}

// Resolve returns the principal's role on the task described by f.
func Resolve(f Facts) Role {
	if f.Principal == "" {
		return RoleNone
	}
	if f.Principal == f.TaskOwnerID {
		return RoleOwner
	}
	if f.ListID == nil {
		return RoleNone
	}
	if f.ListOwnerID != nil && *f.ListOwnerID == f.Principal {
		return RoleOwner
	}
	return FromGrant(f.Grant)
}

// ResolveList returns the principal's role on a list.
func ResolveList(principal, listOwnerID string, grant *store.GrantRole) Role {
	if principal == "" {
		return RoleNone
	}
	if principal == listOwnerID {
		return RoleOwner
	}
	return FromGrant(grant)
}

// FactsFor builds resolver input from a stored task lookup.
func FactsFor(principal string, tf *store.TaskFacts) Facts {
	return Facts{
		Principal:   principal,
		TaskOwnerID: tf.Task.OwnerID,
		ListID:      tf.Task.ListID,
		ListOwnerID: tf.ListOwnerID,
		Grant:       tf.Grant,
	}
}

// Require fails with an insufficient-role error when have is below need.
func Require(have, need Role) error {
	if have >= need {
		return nil
	}
	return apperr.InsufficientRole(fmt.Sprintf("requires %s role", need))
}

// ListAccess is the principal's standing on a list.
type ListAccess struct {
	List store.List
	Role Role
}

// TaskAccess is the principal's standing on a task.
type TaskAccess struct {
	Task        store.Task
	ListOwnerID *string
	Role        Role
}

// Resolver answers access questions against the store.
type Resolver struct {
	lists         store.ListRepository
	collaborators store.CollaboratorRepository
	tasks         store.TaskRepository
}

// NewResolver wires a Resolver to the store repositories.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{lists: s.Lists, collaborators: s.Collaborators, tasks: s.Tasks}
}

// ResolveListAccess loads a list and the principal's role on it. A missing list and a
// list the principal has no relationship to are indistinguishable.
func (r *Resolver) ResolveListAccess(ctx context.Context, listID, principal string) (*ListAccess, error) {
	list, err := r.lists.GetByID(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, apperr.NotFoundOrForbidden()
	}
	var grant *store.GrantRole
	if list.OwnerID != principal {
		c, err := r.collaborators.Get(ctx, listID, principal)
		if err != nil {
			return nil, err
		}
		if c != nil {
			grant = &c.Role
		}
	}
	role := ResolveList(principal, list.OwnerID, grant)
	if role == RoleNone {
		return nil, apperr.NotFoundOrForbidden()
	}
	return &ListAccess{List: *list, Role: role}, nil
}

// ResolveTaskAccess loads a task and the principal's role on it.
func (r *Resolver) ResolveTaskAccess(ctx context.Context, taskID, principal string) (*TaskAccess, error) {
	tf, err := r.tasks.GetFacts(ctx, taskID, principal)
	if err != nil {
		return nil, err
	}
	if tf == nil {
		return nil, apperr.NotFoundOrForbidden()
	}
	role := Resolve(FactsFor(principal, tf))
	if role == RoleNone {
		return nil, apperr.NotFoundOrForbidden()
	}
	return &TaskAccess{Task: tf.Task, ListOwnerID: tf.ListOwnerID, Role: role}, nil
}

// CheckMove validates a listId reassignment. Submitting the current listId is never a
// move. Any real move, including removal from a list, needs OWNER on the task plus edit
// rights on the destination.
func (r *Resolver) CheckMove(ctx context.Context, current *TaskAccess, dest *string, principal string) error {
	if sameList(current.Task.ListID, dest) {
		return nil
	}
	if current.Role != RoleOwner {
		return apperr.InsufficientRole("only the owner can move a task between lists")
	}
	if dest == nil {
		return nil
	}
	target, err := r.ResolveListAccess(ctx, *dest, principal)
	if err != nil {
		return err
	}
	return Require(target.Role, RoleEditor)
}

func sameList(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
