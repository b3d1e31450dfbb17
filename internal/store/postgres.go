package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the subset of pgxpool.Pool used by repositories.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func newID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// userRepo implements UserRepository.
type userRepo struct {
	db dbtx
}

const userColumns = `id, oauth_subject, email, display_name, created_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.OAuthSubject, &u.Email, &u.DisplayName, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) UpsertOAuthUser(ctx context.Context, subject, email, displayName string) (*User, error) {
	defer observeDB(ctx, "users.upsert_oauth")()
	const q = `INSERT INTO users (id, oauth_subject, email, display_name, last_login_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (oauth_subject) DO UPDATE SET
	email = EXCLUDED.email,
	display_name = EXCLUDED.display_name,
	last_login_at = NOW()
RETURNING ` + userColumns
	u, err := scanUser(r.db.QueryRow(ctx, q, newID(), subject, email, displayName))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeDB(ctx, "users.get_by_email")()
	const q = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`
	return scanUser(r.db.QueryRow(ctx, q, strings.TrimSpace(email)))
}

// listRepo implements ListRepository.
type listRepo struct {
	db dbtx
}

const listColumns = `l.id, l.owner_id, l.name, l.color, l.created_at, l.updated_at`

func scanList(row pgx.Row) (*List, error) {
	var l List
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Name, &l.Color, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *listRepo) Create(ctx context.Context, list List) (*List, error) {
	defer observeDB(ctx, "lists.create")()
	if list.ID == "" {
		list.ID = newID()
	}
	const q = `INSERT INTO lists AS l (id, owner_id, name, color) VALUES ($1, $2, $3, $4)
RETURNING ` + listColumns
	created, err := scanList(r.db.QueryRow(ctx, q, list.ID, list.OwnerID, list.Name, list.Color))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create list: %w", err)
	}
	return created, nil
}

func (r *listRepo) GetByID(ctx context.Context, id string) (*List, error) {
	defer observeDB(ctx, "lists.get_by_id")()
	return scanList(r.db.QueryRow(ctx, `SELECT `+listColumns+` FROM lists l WHERE l.id = $1`, id))
}

func (r *listRepo) GetByOwnerAndName(ctx context.Context, ownerID, name string) (*List, error) {
	defer observeDB(ctx, "lists.get_by_owner_name")()
	const q = `SELECT ` + listColumns + ` FROM lists l WHERE l.owner_id = $1 AND l.name = $2`
	return scanList(r.db.QueryRow(ctx, q, ownerID, name))
}

func (r *listRepo) ListAccessible(ctx context.Context, principal string) ([]ListWithGrant, error) {
	defer observeDB(ctx, "lists.list_accessible")()
	const q = `SELECT ` + listColumns + `, c.role
FROM lists l
LEFT JOIN list_collaborators c ON c.list_id = l.id AND c.user_id = $1
WHERE l.owner_id = $1 OR c.user_id IS NOT NULL
ORDER BY l.name, l.id`
	rows, err := r.db.Query(ctx, q, principal)
	if err != nil {
		return nil, fmt.Errorf("list accessible lists: %w", err)
	}
	defer rows.Close()

	var result []ListWithGrant
	for rows.Next() {
		var item ListWithGrant
		var role *string
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Color, &item.CreatedAt, &item.UpdatedAt, &role); err != nil {
			return nil, err
		}
		item.Grant = grantPtr(role)
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *listRepo) Update(ctx context.Context, list List) (*List, error) {
	defer observeDB(ctx, "lists.update")()
	const q = `UPDATE lists AS l SET name = $2, color = $3, updated_at = NOW() WHERE l.id = $1
RETURNING ` + listColumns
	updated, err := scanList(r.db.QueryRow(ctx, q, list.ID, list.Name, list.Color))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update list: %w", err)
	}
	return updated, nil
}

func (r *listRepo) Delete(ctx context.Context, id string) error {
	defer observeDB(ctx, "lists.delete")()
	if _, err := r.db.Exec(ctx, `DELETE FROM lists WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// collaboratorRepo implements CollaboratorRepository.
type collaboratorRepo struct {
	db dbtx
}

const collaboratorColumns = `list_id, user_id, role, created_at, updated_at`

func scanCollaborator(row pgx.Row) (*Collaborator, error) {
	var c Collaborator
	var role string
	if err := row.Scan(&c.ListID, &c.UserID, &role, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Role = GrantRole(role)
	return &c, nil
}

func (r *collaboratorRepo) Upsert(ctx context.Context, c Collaborator) (*Collaborator, error) {
	defer observeDB(ctx, "collaborators.upsert")()
	const q = `INSERT INTO list_collaborators (list_id, user_id, role) VALUES ($1, $2, $3)
ON CONFLICT (list_id, user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
RETURNING ` + collaboratorColumns
	saved, err := scanCollaborator(r.db.QueryRow(ctx, q, c.ListID, c.UserID, string(c.Role)))
	if err != nil {
		return nil, fmt.Errorf("upsert collaborator: %w", err)
	}
	return saved, nil
}

func (r *collaboratorRepo) Get(ctx context.Context, listID, userID string) (*Collaborator, error) {
	defer observeDB(ctx, "collaborators.get")()
	const q = `SELECT ` + collaboratorColumns + ` FROM list_collaborators WHERE list_id = $1 AND user_id = $2`
	return scanCollaborator(r.db.QueryRow(ctx, q, listID, userID))
}

func (r *collaboratorRepo) ListByList(ctx context.Context, listID string) ([]Collaborator, error) {
	defer observeDB(ctx, "collaborators.list_by_list")()
	const q = `SELECT ` + collaboratorColumns + ` FROM list_collaborators WHERE list_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, q, listID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var result []Collaborator
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *collaboratorRepo) Delete(ctx context.Context, listID, userID string) error {
	defer observeDB(ctx, "collaborators.delete")()
	if _, err := r.db.Exec(ctx, `DELETE FROM list_collaborators WHERE list_id = $1 AND user_id = $2`, listID, userID); err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return nil
}

func grantPtr(role *string) *GrantRole {
	if role == nil {
		return nil
	}
	g := GrantRole(*role)
	return &g
}
