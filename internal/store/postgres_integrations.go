package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// connectionRepo implements ConnectionRepository.
type connectionRepo struct {
	db dbtx
}

const connectionColumns = `id, user_id, provider, access_token, refresh_token, expires_at, calendar_id, account_email, created_at, updated_at`

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	if err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.CalendarID, &c.AccountEmail, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepo) Get(ctx context.Context, userID, provider string) (*Connection, error) {
	defer observeDB(ctx, "connections.get")()
	const q = `SELECT ` + connectionColumns + ` FROM integration_connections WHERE user_id = $1 AND provider = $2`
	return scanConnection(r.db.QueryRow(ctx, q, userID, provider))
}

// upsertConnectionSQL resets the calendar binding when the reconnect is for a different
// account: the stored calendar id, the mappings into it and the old refresh token all
// belong to the previous account.
const upsertConnectionSQL = `WITH prev AS (
	SELECT id, account_email FROM integration_connections WHERE user_id = $2 AND provider = $3
), dropped AS (
	DELETE FROM event_mappings m USING prev
	WHERE m.connection_id = prev.id AND lower(prev.account_email) <> lower($7)
)
INSERT INTO integration_connections (id, user_id, provider, access_token, refresh_token, expires_at, account_email)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, provider) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = CASE
		WHEN lower(integration_connections.account_email) <> lower(EXCLUDED.account_email) THEN EXCLUDED.refresh_token
		ELSE COALESCE(EXCLUDED.refresh_token, integration_connections.refresh_token)
	END,
	calendar_id = CASE
		WHEN lower(integration_connections.account_email) <> lower(EXCLUDED.account_email) THEN NULL
		ELSE integration_connections.calendar_id
	END,
	expires_at = EXCLUDED.expires_at,
	account_email = EXCLUDED.account_email,
	updated_at = NOW()
RETURNING ` + connectionColumns

func (r *connectionRepo) Upsert(ctx context.Context, c Connection) (*Connection, error) {
	defer observeDB(ctx, "connections.upsert")()
	if c.ID == "" {
		c.ID = newID()
	}
	saved, err := scanConnection(r.db.QueryRow(ctx, upsertConnectionSQL, c.ID, c.UserID, c.Provider, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.AccountEmail))
	if err != nil {
		return nil, fmt.Errorf("upsert connection: %w", err)
	}
	return saved, nil
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	defer observeDB(ctx, "connections.update_tokens")()
	const q = `UPDATE integration_connections SET
	access_token = $2,
	refresh_token = COALESCE($3, refresh_token),
	expires_at = $4,
	updated_at = NOW()
WHERE id = $1`
	if _, err := r.db.Exec(ctx, q, id, accessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("update connection tokens: %w", err)
	}
	return nil
}

func (r *connectionRepo) SetCalendarID(ctx context.Context, id, calendarID string) (string, error) {
	defer observeDB(ctx, "connections.set_calendar_id")()
	const q = `UPDATE integration_connections
SET calendar_id = COALESCE(calendar_id, $2), updated_at = NOW()
WHERE id = $1
RETURNING calendar_id`
	var stored string
	if err := r.db.QueryRow(ctx, q, id, calendarID).Scan(&stored); err != nil {
		return "", fmt.Errorf("set calendar id: %w", err)
	}
	return stored, nil
}

func (r *connectionRepo) Delete(ctx context.Context, userID, provider string) error {
	defer observeDB(ctx, "connections.delete")()
	const q = `DELETE FROM integration_connections WHERE user_id = $1 AND provider = $2`
	if _, err := r.db.Exec(ctx, q, userID, provider); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// eventMappingRepo implements EventMappingRepository.
type eventMappingRepo struct {
	db dbtx
}

func (r *eventMappingRepo) ListByConnection(ctx context.Context, connectionID string) ([]EventMapping, error) {
	defer observeDB(ctx, "event_mappings.list_by_connection")()
	const q = `SELECT connection_id, task_id, event_id, created_at, updated_at
FROM event_mappings WHERE connection_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, q, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list event mappings: %w", err)
	}
	defer rows.Close()

	var result []EventMapping
	for rows.Next() {
		var m EventMapping
		if err := rows.Scan(&m.ConnectionID, &m.TaskID, &m.EventID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *eventMappingRepo) Upsert(ctx context.Context, m EventMapping) error {
	defer observeDB(ctx, "event_mappings.upsert")()
	const q = `INSERT INTO event_mappings (connection_id, task_id, event_id) VALUES ($1, $2, $3)
ON CONFLICT (connection_id, task_id) DO UPDATE SET event_id = EXCLUDED.event_id, updated_at = NOW()`
	if _, err := r.db.Exec(ctx, q, m.ConnectionID, m.TaskID, m.EventID); err != nil {
		return fmt.Errorf("upsert event mapping: %w", err)
	}
	return nil
}

func (r *eventMappingRepo) Delete(ctx context.Context, connectionID, taskID string) error {
	defer observeDB(ctx, "event_mappings.delete")()
	if _, err := r.db.Exec(ctx, `DELETE FROM event_mappings WHERE connection_id = $1 AND task_id = $2`, connectionID, taskID); err != nil {
		return fmt.Errorf("delete event mapping: %w", err)
	}
	return nil
}

// feedTokenRepo implements FeedTokenRepository.
type feedTokenRepo struct {
	db dbtx
}

const feedTokenColumns = `user_id, ics_token, webhook_token, created_at, updated_at`

func scanFeedTokens(row pgx.Row) (*FeedTokens, error) {
	var f FeedTokens
	if err := row.Scan(&f.UserID, &f.ICSToken, &f.WebhookToken, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *feedTokenRepo) Get(ctx context.Context, userID string) (*FeedTokens, error) {
	defer observeDB(ctx, "feed_tokens.get")()
	return scanFeedTokens(r.db.QueryRow(ctx, `SELECT `+feedTokenColumns+` FROM feed_tokens WHERE user_id = $1`, userID))
}

func (r *feedTokenRepo) Create(ctx context.Context, tokens FeedTokens) (*FeedTokens, error) {
	defer observeDB(ctx, "feed_tokens.create")()
	const q = `INSERT INTO feed_tokens (user_id, ics_token, webhook_token) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, q, tokens.UserID, tokens.ICSToken, tokens.WebhookToken); err != nil {
		return nil, fmt.Errorf("create feed tokens: %w", err)
	}
	return r.Get(ctx, tokens.UserID)
}

func (r *feedTokenRepo) SetICSToken(ctx context.Context, userID, token string) error {
	defer observeDB(ctx, "feed_tokens.set_ics")()
	if _, err := r.db.Exec(ctx, `UPDATE feed_tokens SET ics_token = $2, updated_at = NOW() WHERE user_id = $1`, userID, token); err != nil {
		return fmt.Errorf("rotate ics token: %w", err)
	}
	return nil
}

func (r *feedTokenRepo) SetWebhookToken(ctx context.Context, userID, token string) error {
	defer observeDB(ctx, "feed_tokens.set_webhook")()
	if _, err := r.db.Exec(ctx, `UPDATE feed_tokens SET webhook_token = $2, updated_at = NOW() WHERE user_id = $1`, userID, token); err != nil {
		return fmt.Errorf("rotate webhook token: %w", err)
	}
	return nil
}

func (r *feedTokenRepo) GetByICSToken(ctx context.Context, token string) (*FeedTokens, error) {
	defer observeDB(ctx, "feed_tokens.get_by_ics")()
	return scanFeedTokens(r.db.QueryRow(ctx, `SELECT `+feedTokenColumns+` FROM feed_tokens WHERE ics_token = $1`, token))
}

func (r *feedTokenRepo) GetByWebhookToken(ctx context.Context, token string) (*FeedTokens, error) {
	defer observeDB(ctx, "feed_tokens.get_by_webhook")()
	return scanFeedTokens(r.db.QueryRow(ctx, `SELECT `+feedTokenColumns+` FROM feed_tokens WHERE webhook_token = $1`, token))
}
