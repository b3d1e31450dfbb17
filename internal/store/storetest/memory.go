// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/taskcal/internal/access"
	"github.com/jw6ventures/taskcal/internal/store"
)

type pair struct{ a, b string }

// DB holds every table behind one mutex. It mirrors the Postgres cascades: deleting a
// list drops its grants and unsets tasks' list, deleting a task drops its activity,
// deleting a connection drops its mappings.
type DB struct {
	mu  sync.Mutex
	seq int64

	// Now stamps created/updated times; tests may replace it.
	Now func() time.Time

	users       map[string]store.User
	lists       map[string]store.List
	grants      map[pair]store.Collaborator
	tasks       map[string]store.Task
	activities  []store.Activity
	connections map[string]store.Connection
	mappings    map[pair]store.EventMapping
	feeds       map[string]store.FeedTokens
}

// NewDB returns an empty in-memory database.
func NewDB() *DB {
	return &DB{
		Now:         time.Now,
		users:       map[string]store.User{},
		lists:       map[string]store.List{},
		grants:      map[pair]store.Collaborator{},
		tasks:       map[string]store.Task{},
		connections: map[string]store.Connection{},
		mappings:    map[pair]store.EventMapping{},
		feeds:       map[string]store.FeedTokens{},
	}
}

// New returns a Store backed by a fresh in-memory database.
func New() *store.Store {
	return NewDB().Store()
}

// Store exposes db through the repository interfaces.
func (db *DB) Store() *store.Store {
	return &store.Store{
		Users:         userRepo{db},
		Lists:         listRepo{db},
		Collaborators: collaboratorRepo{db},
		Tasks:         taskRepo{db},
		Activities:    activityRepo{db},
		Connections:   connectionRepo{db},
		EventMappings: mappingRepo{db},
		FeedTokens:    feedRepo{db},
	}
}

// now returns a strictly increasing timestamp so ordering by time is deterministic.
func (db *DB) now() time.Time {
	db.seq++
	return db.Now().UTC().Add(time.Duration(db.seq) * time.Microsecond)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTask(t store.Task) store.Task {
	t.ListID = cloneString(t.ListID)
	t.DueDate = cloneTime(t.DueDate)
	return t
}

type userRepo struct{ db *DB }

func (r userRepo) UpsertOAuthUser(_ context.Context, subject, email, displayName string) (*store.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for id, u := range r.db.users {
		if u.OAuthSubject == subject {
			u.Email, u.DisplayName, u.LastLoginAt = email, displayName, now
			r.db.users[id] = u
			return &u, nil
		}
	}
	u := store.User{ID: uuid.NewString(), OAuthSubject: subject, Email: email, DisplayName: displayName, CreatedAt: now, LastLoginAt: now}
	r.db.users[u.ID] = u
	return &u, nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*store.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*store.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email = strings.TrimSpace(email)
	var found *store.User
	for _, u := range r.db.users {
		if strings.EqualFold(u.Email, email) && (found == nil || u.CreatedAt.Before(found.CreatedAt)) {
			found = &u
		}
	}
	return found, nil
}

type listRepo struct{ db *DB }

func (r listRepo) nameTaken(ownerID, name, exceptID string) bool {
	for _, l := range r.db.lists {
		if l.OwnerID == ownerID && l.Name == name && l.ID != exceptID {
			return true
		}
	}
	return false
}

func (r listRepo) Create(_ context.Context, list store.List) (*store.List, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.nameTaken(list.OwnerID, list.Name, "") {
		return nil, store.ErrConflict
	}
	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	list.Color = cloneString(list.Color)
	list.CreatedAt = r.db.now()
	list.UpdatedAt = list.CreatedAt
	r.db.lists[list.ID] = list
	return &list, nil
}

func (r listRepo) GetByID(_ context.Context, id string) (*store.List, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if l, ok := r.db.lists[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (r listRepo) GetByOwnerAndName(_ context.Context, ownerID, name string) (*store.List, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, l := range r.db.lists {
		if l.OwnerID == ownerID && l.Name == name {
			return &l, nil
		}
	}
	return nil, nil
}

func (r listRepo) ListAccessible(_ context.Context, principal string) ([]store.ListWithGrant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []store.ListWithGrant
	for _, l := range r.db.lists {
		var grant *store.GrantRole
		if c, ok := r.db.grants[pair{l.ID, principal}]; ok {
			role := c.Role
			grant = &role
		}
		if access.ResolveList(principal, l.OwnerID, grant) == access.RoleNone {
			continue
		}
		result = append(result, store.ListWithGrant{List: l, Grant: grant})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r listRepo) Update(_ context.Context, list store.List) (*store.List, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	existing, ok := r.db.lists[list.ID]
	if !ok {
		return nil, nil
	}
	if r.nameTaken(existing.OwnerID, list.Name, list.ID) {
		return nil, store.ErrConflict
	}
	existing.Name = list.Name
	existing.Color = cloneString(list.Color)
	existing.UpdatedAt = r.db.now()
	r.db.lists[list.ID] = existing
	return &existing, nil
}

func (r listRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.lists, id)
	for k := range r.db.grants {
		if k.a == id {
			delete(r.db.grants, k)
		}
	}
	for tid, t := range r.db.tasks {
		if t.ListID != nil && *t.ListID == id {
			t.ListID = nil
			r.db.tasks[tid] = t
		}
	}
	return nil
}

type collaboratorRepo struct{ db *DB }

func (r collaboratorRepo) Upsert(_ context.Context, c store.Collaborator) (*store.Collaborator, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	key := pair{c.ListID, c.UserID}
	if existing, ok := r.db.grants[key]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.db.grants[key] = c
	return &c, nil
}

func (r collaboratorRepo) Get(_ context.Context, listID, userID string) (*store.Collaborator, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.db.grants[pair{listID, userID}]; ok {
		return &c, nil
	}
	return nil, nil
}

func (r collaboratorRepo) ListByList(_ context.Context, listID string) ([]store.Collaborator, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []store.Collaborator
	for k, c := range r.db.grants {
		if k.a == listID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r collaboratorRepo) Delete(_ context.Context, listID, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.grants, pair{listID, userID})
	return nil
}

type taskRepo struct{ db *DB }

func (r taskRepo) Create(_ context.Context, task store.Task) (*store.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task = cloneTask(task)
	task.CreatedAt = r.db.now()
	task.UpdatedAt = task.CreatedAt
	r.db.tasks[task.ID] = task
	out := cloneTask(task)
	return &out, nil
}

func (r taskRepo) GetByID(_ context.Context, id string) (*store.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.tasks[id]; ok {
		t = cloneTask(t)
		return &t, nil
	}
	return nil, nil
}

// facts must be called with the lock held.
func (r taskRepo) facts(t store.Task, principal string) store.TaskFacts {
	tf := store.TaskFacts{Task: cloneTask(t)}
	if t.ListID == nil {
		return tf
	}
	if l, ok := r.db.lists[*t.ListID]; ok {
		owner := l.OwnerID
		tf.ListOwnerID = &owner
	}
	if c, ok := r.db.grants[pair{*t.ListID, principal}]; ok {
		role := c.Role
		tf.Grant = &role
	}
	return tf
}

func (r taskRepo) GetFacts(_ context.Context, id, principal string) (*store.TaskFacts, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return nil, nil
	}
	tf := r.facts(t, principal)
	return &tf, nil
}

func (r taskRepo) ListAccessible(_ context.Context, principal string, filter store.TaskFilter) ([]store.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []store.Task
	for _, t := range r.db.tasks {
		tf := r.facts(t, principal)
		if access.Resolve(access.FactsFor(principal, &tf)) == access.RoleNone {
			continue
		}
		if filter.ListID != nil && (t.ListID == nil || *t.ListID != *filter.ListID) {
			continue
		}
		if (filter.SyncEligible || filter.WithDueDate) && t.DueDate == nil {
			continue
		}
		if filter.SyncEligible && t.IsCompleted {
			continue
		}
		result = append(result, tf.Task)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return result, nil
}

func (r taskRepo) Update(_ context.Context, task store.Task) (*store.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	existing, ok := r.db.tasks[task.ID]
	if !ok {
		return nil, nil
	}
	task = cloneTask(task)
	task.OwnerID = existing.OwnerID
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = r.db.now()
	r.db.tasks[task.ID] = task
	out := cloneTask(task)
	return &out, nil
}

func (r taskRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.tasks, id)
	kept := r.db.activities[:0]
	for _, a := range r.db.activities {
		if a.TaskID != id {
			kept = append(kept, a)
		}
	}
	r.db.activities = kept
	return nil
}

type activityRepo struct{ db *DB }

func (r activityRepo) Append(_ context.Context, a store.Activity) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.ActorID = cloneString(a.ActorID)
	a.CreatedAt = r.db.now()
	r.db.activities = append(r.db.activities, a)
	return nil
}

func (r activityRepo) ListByTask(_ context.Context, taskID string) ([]store.Activity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []store.Activity
	for i := len(r.db.activities) - 1; i >= 0; i-- {
		if a := r.db.activities[i]; a.TaskID == taskID {
			result = append(result, a)
		}
	}
	return result, nil
}

type connectionRepo struct{ db *DB }

func (r connectionRepo) find(userID, provider string) (store.Connection, bool) {
	for _, c := range r.db.connections {
		if c.UserID == userID && c.Provider == provider {
			return c, true
		}
	}
	return store.Connection{}, false
}

func (r connectionRepo) Get(_ context.Context, userID, provider string) (*store.Connection, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.find(userID, provider); ok {
		return &c, nil
	}
	return nil, nil
}

func (r connectionRepo) Upsert(_ context.Context, c store.Connection) (*store.Connection, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	if existing, ok := r.find(c.UserID, c.Provider); ok {
		existing.AccessToken = c.AccessToken
		switch {
		case !strings.EqualFold(existing.AccountEmail, c.AccountEmail):
			existing.RefreshToken = cloneString(c.RefreshToken)
			existing.CalendarID = nil
			for k := range r.db.mappings {
				if k.a == existing.ID {
					delete(r.db.mappings, k)
				}
			}
		case c.RefreshToken != nil:
			existing.RefreshToken = cloneString(c.RefreshToken)
		}
		existing.ExpiresAt = cloneTime(c.ExpiresAt)
		existing.AccountEmail = c.AccountEmail
		existing.UpdatedAt = now
		r.db.connections[existing.ID] = existing
		return &existing, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.RefreshToken = cloneString(c.RefreshToken)
	c.ExpiresAt = cloneTime(c.ExpiresAt)
	c.CalendarID = nil
	c.CreatedAt, c.UpdatedAt = now, now
	r.db.connections[c.ID] = c
	return &c, nil
}

func (r connectionRepo) UpdateTokens(_ context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.connections[id]
	if !ok {
		return nil
	}
	c.AccessToken = accessToken
	if refreshToken != nil {
		c.RefreshToken = cloneString(refreshToken)
	}
	c.ExpiresAt = cloneTime(expiresAt)
	c.UpdatedAt = r.db.now()
	r.db.connections[id] = c
	return nil
}

func (r connectionRepo) SetCalendarID(_ context.Context, id, calendarID string) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.connections[id]
	if !ok {
		return "", store.ErrConflict
	}
	if c.CalendarID == nil {
		c.CalendarID = &calendarID
		c.UpdatedAt = r.db.now()
		r.db.connections[id] = c
	}
	return *c.CalendarID, nil
}

func (r connectionRepo) Delete(_ context.Context, userID, provider string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.find(userID, provider)
	if !ok {
		return nil
	}
	delete(r.db.connections, c.ID)
	for k := range r.db.mappings {
		if k.a == c.ID {
			delete(r.db.mappings, k)
		}
	}
	return nil
}

type mappingRepo struct{ db *DB }

func (r mappingRepo) ListByConnection(_ context.Context, connectionID string) ([]store.EventMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var result []store.EventMapping
	for k, m := range r.db.mappings {
		if k.a == connectionID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r mappingRepo) Upsert(_ context.Context, m store.EventMapping) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	key := pair{m.ConnectionID, m.TaskID}
	if existing, ok := r.db.mappings[key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.db.mappings[key] = m
	return nil
}

func (r mappingRepo) Delete(_ context.Context, connectionID, taskID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.mappings, pair{connectionID, taskID})
	return nil
}

type feedRepo struct{ db *DB }

func (r feedRepo) Get(_ context.Context, userID string) (*store.FeedTokens, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if f, ok := r.db.feeds[userID]; ok {
		return &f, nil
	}
	return nil, nil
}

func (r feedRepo) tokenInUse(token string) bool {
	for _, f := range r.db.feeds {
		if f.ICSToken == token || f.WebhookToken == token {
			return true
		}
	}
	return false
}

func (r feedRepo) Create(_ context.Context, tokens store.FeedTokens) (*store.FeedTokens, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if f, ok := r.db.feeds[tokens.UserID]; ok {
		return &f, nil
	}
	if r.tokenInUse(tokens.ICSToken) || r.tokenInUse(tokens.WebhookToken) {
		return nil, store.ErrConflict
	}
	tokens.CreatedAt = r.db.now()
	tokens.UpdatedAt = tokens.CreatedAt
	r.db.feeds[tokens.UserID] = tokens
	return &tokens, nil
}

func (r feedRepo) set(userID, token string, apply func(*store.FeedTokens)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.feeds[userID]
	if !ok {
		return nil
	}
	if r.tokenInUse(token) {
		return store.ErrConflict
	}
	apply(&f)
	f.UpdatedAt = r.db.now()
	r.db.feeds[userID] = f
	return nil
}

func (r feedRepo) SetICSToken(_ context.Context, userID, token string) error {
	return r.set(userID, token, func(f *store.FeedTokens) { f.ICSToken = token })
}

func (r feedRepo) SetWebhookToken(_ context.Context, userID, token string) error {
	return r.set(userID, token, func(f *store.FeedTokens) { f.WebhookToken = token })
}

func (r feedRepo) lookup(match func(store.FeedTokens) bool) (*store.FeedTokens, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, f := range r.db.feeds {
		if match(f) {
			return &f, nil
		}
	}
	return nil, nil
}

func (r feedRepo) GetByICSToken(_ context.Context, token string) (*store.FeedTokens, error) {
	return r.lookup(func(f store.FeedTokens) bool { return f.ICSToken == token })
}

func (r feedRepo) GetByWebhookToken(_ context.Context, token string) (*store.FeedTokens, error) {
	return r.lookup(func(f store.FeedTokens) bool { return f.WebhookToken == token })
}
