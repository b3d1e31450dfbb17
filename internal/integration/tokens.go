// Package integration links a user's tasks to their external calendar: connection
// lifecycle, token refresh and reconciliation.
package integration

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/seal"
	"github.com/jw6ventures/taskcal/internal/store"
)

// refreshMargin is how long before expiry a stored access token stops being used.
const refreshMargin = 60 * time.Second

// Refresher redeems refresh tokens at the provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.Token, error)
}

// Credential is a usable access token and the connection it belongs to.
type Credential struct {
	AccessToken string
	Connection  store.Connection
}

// TokenManager hands out access tokens, refreshing them when they are about to expire.
type TokenManager struct {
	conns     store.ConnectionRepository
	sealer    *seal.Sealer
	refresher Refresher
	now       func() time.Time
	group     singleflight.Group
}

// NewTokenManager builds a TokenManager.
func NewTokenManager(conns store.ConnectionRepository, sealer *seal.Sealer, refresher Refresher) *TokenManager {
	return &TokenManager{conns: conns, sealer: sealer, refresher: refresher, now: time.Now}
}

// EnsureAccessToken returns a valid access token for userID's connection. Concurrent
// calls for one user share a single refresh. The shared refresh is detached from any one
// caller's cancellation; each caller still stops waiting when its own ctx ends.
func (m *TokenManager) EnsureAccessToken(ctx context.Context, userID string) (*Credential, error) {
	flight := context.WithoutCancel(ctx)
	ch := m.group.DoChan(userID, func() (any, error) {
		return m.ensure(flight, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred := *res.Val.(*Credential)
		return &cred, nil
	}
}

func (m *TokenManager) ensure(ctx context.Context, userID string) (*Credential, error) {
	conn, err := m.conns.Get(ctx, userID, provider.Name)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperr.NotConnected()
	}

	now := m.now()
	if conn.AccessToken != "" && conn.ExpiresAt != nil && conn.ExpiresAt.After(now.Add(refreshMargin)) {
		access, err := m.sealer.Open(conn.AccessToken)
		if err != nil {
			return nil, err
		}
		return &Credential{AccessToken: access, Connection: *conn}, nil
	}

	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		return nil, apperr.MissingRefreshToken()
	}
	refreshToken, err := m.sealer.Open(*conn.RefreshToken)
	if err != nil {
		return nil, err
	}
	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	sealedAccess, err := m.sealer.Seal(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	var sealedRefresh *string
	if tok.RefreshToken != "" {
		s, err := m.sealer.Seal(tok.RefreshToken)
		if err != nil {
			return nil, err
		}
		sealedRefresh = &s
	}
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiresAt = &e
	}
	if err := m.conns.UpdateTokens(ctx, conn.ID, sealedAccess, sealedRefresh, expiresAt); err != nil {
		return nil, err
	}

	conn.AccessToken = sealedAccess
	if sealedRefresh != nil {
		conn.RefreshToken = sealedRefresh
	}
	conn.ExpiresAt = expiresAt
	return &Credential{AccessToken: tok.AccessToken, Connection: *conn}, nil
}
