package store

import "time"

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status of a task. DONE is kept in lockstep with Task.IsCompleted.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// GrantRole is the role stored on a collaborator grant. Ownership is never a grant.
type GrantRole string

const (
	GrantEditor GrantRole = "EDITOR"
	GrantViewer GrantRole = "VIEWER"
)

// Valid reports whether r is a storable grant role.
func (r GrantRole) Valid() bool {
	return r == GrantEditor || r == GrantViewer
}

// User represents a person authenticated via OIDC.
type User struct {
	ID           string
	OAuthSubject string
	Email        string
	DisplayName  string
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// List groups tasks and is the unit of sharing.
type List struct {
	ID        string
	OwnerID   string
	Name      string
	Color     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListWithGrant is a list plus the querying principal's grant, if any.
type ListWithGrant struct {
	List
	Grant *GrantRole
}

// Collaborator is a (list, user, role) grant.
type Collaborator struct {
	ListID    string
	UserID    string
	Role      GrantRole
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is a unit of work, optionally inside a list.
type Task struct {
	ID          string
	OwnerID     string
	ListID      *string
	Title       string
	Description string
	DueDate     *time.Time
	Priority    Priority
	Status      Status
	IsCompleted bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskFacts are the ownership facts needed to resolve a principal's role on a task.
type TaskFacts struct {
	Task        Task
	ListOwnerID *string
	Grant       *GrantRole
}

// TaskFilter narrows ListAccessible queries.
type TaskFilter struct {
	ListID *string
	// SyncEligible keeps only tasks with a due date that are not completed.
	SyncEligible bool
	// WithDueDate keeps only tasks with a due date.
	WithDueDate bool
}

// ActivityType labels an activity entry.
type ActivityType string

const (
	ActivityTaskCreated   ActivityType = "TASK_CREATED"
	ActivityTaskUpdated   ActivityType = "TASK_UPDATED"
	ActivityStatusChanged ActivityType = "STATUS_CHANGED"
	ActivityCommentAdded  ActivityType = "COMMENT_ADDED"
)

// Activity is an immutable audit entry. A nil ActorID marks a system or webhook action.
type Activity struct {
	ID        string
	TaskID    string
	ActorID   *string
	Type      ActivityType
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Connection is a user's link to an external calendar provider. Tokens are sealed.
type Connection struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	CalendarID   *string
	AccountEmail string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventMapping links a local task to a remote event for one connection.
type EventMapping struct {
	ConnectionID string
	TaskID       string
	EventID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FeedTokens are the per-user bearer capabilities for the ICS feed and the inbound webhook.
type FeedTokens struct {
	UserID       string
	ICSToken     string
	WebhookToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
