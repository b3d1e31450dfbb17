package integration

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/jw6ventures/taskcal/internal/feeds"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/store/storetest"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

type fakeAuthorizer struct {
	token *provider.Token
	email string
	codes []string
}

func (f *fakeAuthorizer) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeAuthorizer) Exchange(_ context.Context, code string) (*provider.Token, error) {
	f.codes = append(f.codes, code)
	tok := *f.token
	return &tok, nil
}

func (f *fakeAuthorizer) UserEmail(context.Context, string) (string, error) {
	return f.email, nil
}

func TestConnectorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	sealer := mustSealer(t)
	user := storetest.SeedUser(t, s, "ana")
	expiry := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	auth := &fakeAuthorizer{token: &provider.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: expiry}, email: "ana@gmail.com"}
	feedService := feeds.NewService(s.FeedTokens, tasks.NewService(s, nil), "https://taskcal.example.com", "TaskCal")
	c := NewConnector(auth, s.Connections, sealer, feedService)

	u, state, err := c.BeginConnect()
	if err != nil {
		t.Fatalf("BeginConnect: %v", err)
	}
	if len(state) < 40 {
		t.Fatalf("state %q too short", state)
	}
	parsed, _ := url.Parse(u)
	if parsed.Query().Get("state") != state {
		t.Fatalf("url %q does not carry state", u)
	}

	st, err := c.Status(ctx, user.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Connected || st.Feeds == nil {
		t.Fatalf("status before connect = %+v", st)
	}

	st, err = c.CompleteConnect(ctx, user.ID, "code-1")
	if err != nil {
		t.Fatalf("CompleteConnect: %v", err)
	}
	if !st.Connected || st.AccountEmail != "ana@gmail.com" || st.ExpiresAt == nil || !st.ExpiresAt.Equal(expiry) {
		t.Fatalf("status = %+v", st)
	}

	conn, _ := s.Connections.Get(ctx, user.ID, provider.Name)
	if conn.AccessToken == "a1" {
		t.Fatalf("access token stored unsealed")
	}
	if got, _ := sealer.Open(*conn.RefreshToken); got != "r1" {
		t.Fatalf("refresh = %q", got)
	}
	if _, err := s.Connections.SetCalendarID(ctx, conn.ID, "cal-1"); err != nil {
		t.Fatalf("SetCalendarID: %v", err)
	}

	// Reconnect without a refresh token keeps the old one and the calendar.
	auth.token = &provider.Token{AccessToken: "a2", Expiry: expiry.Add(time.Hour)}
	st, err = c.CompleteConnect(ctx, user.ID, "code-2")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if st.CalendarID == nil || *st.CalendarID != "cal-1" {
		t.Fatalf("calendar id = %v, want cal-1", st.CalendarID)
	}
	conn, _ = s.Connections.Get(ctx, user.ID, provider.Name)
	if got, _ := sealer.Open(*conn.RefreshToken); got != "r1" {
		t.Fatalf("refresh after reconnect = %q, want r1", got)
	}

	// Reconnecting as a different account drops the previous account's calendar.
	auth.token = &provider.Token{AccessToken: "a3", RefreshToken: "r3", Expiry: expiry.Add(2 * time.Hour)}
	auth.email = "ana.work@example.com"
	st, err = c.CompleteConnect(ctx, user.ID, "code-3")
	if err != nil {
		t.Fatalf("reconnect other account: %v", err)
	}
	if st.CalendarID != nil || st.AccountEmail != "ana.work@example.com" {
		t.Fatalf("status after account switch = %+v", st)
	}

	if err := c.Disconnect(ctx, user.ID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	st, err = c.Status(ctx, user.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Connected {
		t.Fatalf("still connected after Disconnect")
	}
}
