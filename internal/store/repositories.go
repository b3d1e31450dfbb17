package store

import (
	"context"
	"time"
)

// Point lookups return (nil, nil) when the row does not exist.

// UserRepository defines persistence operations for users.
type UserRepository interface {
	UpsertOAuthUser(ctx context.Context, subject, email, displayName string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// ListRepository handles list lifecycle. Create and Update return ErrConflict on a
// duplicate (owner, name).
type ListRepository interface {
	Create(ctx context.Context, list List) (*List, error)
	GetByID(ctx context.Context, id string) (*List, error)
	GetByOwnerAndName(ctx context.Context, ownerID, name string) (*List, error)
	ListAccessible(ctx context.Context, principal string) ([]ListWithGrant, error)
	Update(ctx context.Context, list List) (*List, error)
	Delete(ctx context.Context, id string) error
}

// CollaboratorRepository manages list grants, unique per (list, user).
type CollaboratorRepository interface {
	Upsert(ctx context.Context, c Collaborator) (*Collaborator, error)
	Get(ctx context.Context, listID, userID string) (*Collaborator, error)
	ListByList(ctx context.Context, listID string) ([]Collaborator, error)
	Delete(ctx context.Context, listID, userID string) error
}

// TaskRepository handles task storage.
type TaskRepository interface {
	Create(ctx context.Context, task Task) (*Task, error)
	GetByID(ctx context.Context, id string) (*Task, error)
	// GetFacts loads a task with its list owner and principal's grant in one lookup.
	GetFacts(ctx context.Context, id, principal string) (*TaskFacts, error)
	// ListAccessible returns tasks visible to principal: owned by them, in a list they own,
	// or in a list where they hold a grant.
	ListAccessible(ctx context.Context, principal string, filter TaskFilter) ([]Task, error)
	Update(ctx context.Context, task Task) (*Task, error)
	Delete(ctx context.Context, id string) error
}

// ActivityRepository is append-only.
type ActivityRepository interface {
	Append(ctx context.Context, a Activity) error
	ListByTask(ctx context.Context, taskID string) ([]Activity, error)
}

// ConnectionRepository stores provider connections, unique per (user, provider).
type ConnectionRepository interface {
	Get(ctx context.Context, userID, provider string) (*Connection, error)
	// Upsert inserts or replaces tokens and account email; a stored calendar id is kept.
	Upsert(ctx context.Context, c Connection) (*Connection, error)
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error
	// SetCalendarID stores calendarID only if none is stored yet and returns the stored id.
	SetCalendarID(ctx context.Context, id, calendarID string) (string, error)
	Delete(ctx context.Context, userID, provider string) error
}

// EventMappingRepository stores task to remote event links.
type EventMappingRepository interface {
	ListByConnection(ctx context.Context, connectionID string) ([]EventMapping, error)
	Upsert(ctx context.Context, m EventMapping) error
	Delete(ctx context.Context, connectionID, taskID string) error
}

// FeedTokenRepository stores the per-user capability tokens.
type FeedTokenRepository interface {
	Get(ctx context.Context, userID string) (*FeedTokens, error)
	// Create inserts the pair unless one exists and returns the stored pair.
	Create(ctx context.Context, tokens FeedTokens) (*FeedTokens, error)
	SetICSToken(ctx context.Context, userID, token string) error
	SetWebhookToken(ctx context.Context, userID, token string) error
	GetByICSToken(ctx context.Context, token string) (*FeedTokens, error)
	GetByWebhookToken(ctx context.Context, token string) (*FeedTokens, error)
}
