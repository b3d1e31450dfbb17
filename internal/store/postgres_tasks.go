package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `t.id, t.owner_id, t.list_id, t.title, t.description, t.due_date, t.priority, t.status, t.is_completed, t.created_at, t.updated_at`

// taskAccessJoin and taskVisible encode the visibility rule once for both the single
// and the bulk query: a task is visible to $1 when they own it, own its list, or hold a
// grant on its list. It must stay equivalent to access.Resolve != RoleNone.
const (
	taskAccessJoin = `FROM tasks t
LEFT JOIN lists l ON l.id = t.list_id
LEFT JOIN list_collaborators c ON c.list_id = t.list_id AND c.user_id = $1`
	taskVisible = `(t.owner_id = $1 OR l.owner_id = $1 OR c.user_id IS NOT NULL)`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func taskDest(t *Task, priority, status *string) []any {
	return []any{&t.ID, &t.OwnerID, &t.ListID, &t.Title, &t.Description, &t.DueDate, priority, status, &t.IsCompleted, &t.CreatedAt, &t.UpdatedAt}
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var priority, status string
	if err := row.Scan(taskDest(&t, &priority, &status)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	return &t, nil
}

// taskRepo implements TaskRepository.
type taskRepo struct {
	db dbtx
}

func (r *taskRepo) Create(ctx context.Context, task Task) (*Task, error) {
	defer observeDB(ctx, "tasks.create")()
	if task.ID == "" {
		task.ID = newID()
	}
	const q = `INSERT INTO tasks AS t (id, owner_id, list_id, title, description, due_date, priority, status, is_completed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + taskColumns
	created, err := scanTask(r.db.QueryRow(ctx, q,
		task.ID, task.OwnerID, task.ListID, task.Title, task.Description, task.DueDate,
		string(task.Priority), string(task.Status), task.IsCompleted))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

func (r *taskRepo) GetByID(ctx context.Context, id string) (*Task, error) {
	defer observeDB(ctx, "tasks.get_by_id")()
	return scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`, id))
}

func (r *taskRepo) GetFacts(ctx context.Context, id, principal string) (*TaskFacts, error) {
	defer observeDB(ctx, "tasks.get_facts")()
	q := `SELECT ` + taskColumns + `, l.owner_id, c.role ` + taskAccessJoin + ` WHERE t.id = $2`

	var facts TaskFacts
	var priority, status string
	var role *string
	dest := append(taskDest(&facts.Task, &priority, &status), &facts.ListOwnerID, &role)
	if err := r.db.QueryRow(ctx, q, principal, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load task facts: %w", err)
	}
	facts.Task.Priority = Priority(priority)
	facts.Task.Status = Status(status)
	facts.Grant = grantPtr(role)
	return &facts, nil
}

func (r *taskRepo) ListAccessible(ctx context.Context, principal string, filter TaskFilter) ([]Task, error) {
	defer observeDB(ctx, "tasks.list_accessible")()
	q, args := buildAccessibleTasksQuery(principal, filter)
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list accessible tasks: %w", err)
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func buildAccessibleTasksQuery(principal string, filter TaskFilter) (string, []any) {
	args := []any{principal}
	conds := []string{taskVisible}
	if filter.ListID != nil {
		args = append(args, *filter.ListID)
		conds = append(conds, "t.list_id = $"+strconv.Itoa(len(args)))
	}
	if filter.SyncEligible {
		conds = append(conds, "t.due_date IS NOT NULL", "t.is_completed = FALSE")
	} else if filter.WithDueDate {
		conds = append(conds, "t.due_date IS NOT NULL")
	}
	q := `SELECT ` + taskColumns + ` ` + taskAccessJoin + `
WHERE ` + strings.Join(conds, " AND ") + `
ORDER BY t.due_date ASC NULLS LAST, t.created_at ASC`
	return q, args
}

func (r *taskRepo) Update(ctx context.Context, task Task) (*Task, error) {
	defer observeDB(ctx, "tasks.update")()
	const q = `UPDATE tasks AS t SET
	list_id = $2, title = $3, description = $4, due_date = $5,
	priority = $6, status = $7, is_completed = $8, updated_at = NOW()
WHERE t.id = $1
RETURNING ` + taskColumns
	updated, err := scanTask(r.db.QueryRow(ctx, q,
		task.ID, task.ListID, task.Title, task.Description, task.DueDate,
		string(task.Priority), string(task.Status), task.IsCompleted))
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	defer observeDB(ctx, "tasks.delete")()
	if _, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// activityRepo implements ActivityRepository.
type activityRepo struct {
	db dbtx
}

func (r *activityRepo) Append(ctx context.Context, a Activity) error {
	defer observeDB(ctx, "activities.append")()
	if a.ID == "" {
		a.ID = newID()
	}
	var metadata []byte
	if a.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(a.Metadata); err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
	}
	const q = `INSERT INTO task_activities (id, task_id, actor_id, type, message, metadata)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)`
	if _, err := r.db.Exec(ctx, q, a.ID, a.TaskID, a.ActorID, string(a.Type), a.Message, metadata); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (r *activityRepo) ListByTask(ctx context.Context, taskID string) ([]Activity, error) {
	defer observeDB(ctx, "activities.list_by_task")()
	const q = `SELECT id, task_id, actor_id, type, message, metadata, created_at
FROM task_activities WHERE task_id = $1 ORDER BY created_at DESC, id`
	rows, err := r.db.Query(ctx, q, taskID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var result []Activity
	for rows.Next() {
		var a Activity
		var typ string
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.TaskID, &a.ActorID, &typ, &a.Message, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = ActivityType(typ)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
