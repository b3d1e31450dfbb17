package integration

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jw6ventures/taskcal/internal/feeds"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/seal"
	"github.com/jw6ventures/taskcal/internal/store"
)

// Authorizer runs the provider's authorization-code flow.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*provider.Token, error)
	UserEmail(ctx context.Context, accessToken string) (string, error)
}

// Status describes a user's integration state.
type Status struct {
	Connected    bool        `json:"connected"`
	AccountEmail string      `json:"accountEmail,omitempty"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	CalendarID   *string     `json:"calendarId,omitempty"`
	Feeds        *feeds.URLs `json:"feeds,omitempty"`
}

// Connector manages the lifecycle of a user's calendar connection.
type Connector struct {
	auth   Authorizer
	conns  store.ConnectionRepository
	sealer *seal.Sealer
	feeds  *feeds.Service
}

// NewConnector builds a Connector. feedService may be nil, in which case Status omits
// feed URLs.
func NewConnector(auth Authorizer, conns store.ConnectionRepository, sealer *seal.Sealer, feedService *feeds.Service) *Connector {
	return &Connector{auth: auth, conns: conns, sealer: sealer, feeds: feedService}
}

// BeginConnect returns the provider consent URL and the state nonce the caller must bind
// to the user and check on callback.
func (c *Connector) BeginConnect() (url, state string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	state = base64.RawURLEncoding.EncodeToString(b)
	return c.auth.AuthCodeURL(state), state, nil
}

// CompleteConnect redeems code and stores the sealed tokens for userID. Reconnecting
// replaces the tokens but keeps the stored calendar.
func (c *Connector) CompleteConnect(ctx context.Context, userID, code string) (*Status, error) {
	tok, err := c.auth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	email, err := c.auth.UserEmail(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	access, err := c.sealer.Seal(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	conn := store.Connection{
		UserID:       userID,
		Provider:     provider.Name,
		AccessToken:  access,
		AccountEmail: email,
	}
	if tok.RefreshToken != "" {
		refresh, err := c.sealer.Seal(tok.RefreshToken)
		if err != nil {
			return nil, err
		}
		conn.RefreshToken = &refresh
	}
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		conn.ExpiresAt = &e
	}
	if _, err := c.conns.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	return c.Status(ctx, userID)
}

// Disconnect removes userID's connection. Event mappings go with it; remote events are
// left in place.
func (c *Connector) Disconnect(ctx context.Context, userID string) error {
	return c.conns.Delete(ctx, userID, provider.Name)
}

// Status reports userID's connection and feed URLs.
func (c *Connector) Status(ctx context.Context, userID string) (*Status, error) {
	conn, err := c.conns.Get(ctx, userID, provider.Name)
	if err != nil {
		return nil, err
	}
	st := &Status{}
	if conn != nil {
		st.Connected = true
		st.AccountEmail = conn.AccountEmail
		st.ExpiresAt = conn.ExpiresAt
		st.CalendarID = conn.CalendarID
	}
	if c.feeds != nil {
		if st.Feeds, err = c.feeds.FeedURLs(ctx, userID); err != nil {
			return nil, err
		}
	}
	return st, nil
}
