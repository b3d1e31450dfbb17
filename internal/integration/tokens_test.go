package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/store/storetest"
)

func TestEnsureAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	refreshed := &provider.Token{AccessToken: "fresh-access", RefreshToken: "fresh-refresh", Expiry: now.Add(time.Hour)}

	tests := []struct {
		name        string
		seed        bool
		refresh     string
		expiresAt   time.Time
		token       *provider.Token
		refreshErr  error
		wantAccess  string
		wantKind    apperr.Kind
		wantCalls   int
		wantRefresh string
	}{
		{name: "not connected", wantKind: apperr.KindNotConnected},
		{name: "valid token skips network", seed: true, refresh: "r0", expiresAt: now.Add(10 * time.Minute), wantAccess: "a0", wantRefresh: "r0"},
		{name: "inside margin refreshes", seed: true, refresh: "r0", expiresAt: now.Add(30 * time.Second), token: refreshed, wantAccess: "fresh-access", wantCalls: 1, wantRefresh: "fresh-refresh"},
		{name: "unknown expiry refreshes", seed: true, refresh: "r0", token: refreshed, wantAccess: "fresh-access", wantCalls: 1, wantRefresh: "fresh-refresh"},
		{name: "empty refresh in response keeps old", seed: true, refresh: "r0", expiresAt: now.Add(-time.Minute), token: &provider.Token{AccessToken: "fresh-access", Expiry: now.Add(time.Hour)}, wantAccess: "fresh-access", wantCalls: 1, wantRefresh: "r0"},
		{name: "missing refresh token", seed: true, expiresAt: now.Add(-time.Minute), wantKind: apperr.KindMissingRefreshToken},
		{name: "provider rejects refresh", seed: true, refresh: "r0", expiresAt: now.Add(-time.Minute), refreshErr: apperr.ProviderAuth(`{"error":"invalid_grant"}`, nil), wantKind: apperr.KindProviderAuth, wantCalls: 1, wantRefresh: "r0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := storetest.New()
			sealer := mustSealer(t)
			user := storetest.SeedUser(t, s, "ana")
			if tt.seed {
				seedConnection(t, s, sealer, user.ID, "a0", tt.refresh, tt.expiresAt)
			}
			ref := &fakeRefresher{token: tt.token, err: tt.refreshErr}
			m := NewTokenManager(s.Connections, sealer, ref)
			m.now = func() time.Time { return now }

			cred, err := m.EnsureAccessToken(ctx, user.ID)
			if tt.wantKind != "" {
				if apperr.KindOf(err) != tt.wantKind {
					t.Fatalf("err = %v, want kind %s", err, tt.wantKind)
				}
			} else {
				if err != nil {
					t.Fatalf("EnsureAccessToken: %v", err)
				}
				if cred.AccessToken != tt.wantAccess {
					t.Fatalf("access = %q, want %q", cred.AccessToken, tt.wantAccess)
				}
			}
			if ref.calls != tt.wantCalls {
				t.Fatalf("refresh calls = %d, want %d", ref.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && ref.got[0] != "r0" {
				t.Fatalf("refresh used %q, want unsealed r0", ref.got[0])
			}
			if tt.wantRefresh == "" {
				return
			}

			stored, err := s.Connections.Get(ctx, user.ID, provider.Name)
			if err != nil || stored == nil {
				t.Fatalf("Get connection: %v %v", stored, err)
			}
			gotRefresh, err := sealer.Open(*stored.RefreshToken)
			if err != nil {
				t.Fatalf("Open refresh: %v", err)
			}
			if gotRefresh != tt.wantRefresh {
				t.Fatalf("stored refresh = %q, want %q", gotRefresh, tt.wantRefresh)
			}
			if tt.wantKind == "" && tt.wantCalls > 0 {
				gotAccess, _ := sealer.Open(stored.AccessToken)
				if gotAccess != tt.wantAccess {
					t.Fatalf("stored access = %q, want %q", gotAccess, tt.wantAccess)
				}
				if stored.ExpiresAt == nil || !stored.ExpiresAt.Equal(now.Add(time.Hour)) {
					t.Fatalf("stored expiry = %v", stored.ExpiresAt)
				}
			}
		})
	}
}

func TestEnsureAccessTokenRefreshedTokenIsReused(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := storetest.New()
	sealer := mustSealer(t)
	user := storetest.SeedUser(t, s, "ana")
	seedConnection(t, s, sealer, user.ID, "a0", "r0", now.Add(-time.Hour))

	ref := &fakeRefresher{token: &provider.Token{AccessToken: "a1", Expiry: now.Add(time.Hour)}}
	m := NewTokenManager(s.Connections, sealer, ref)
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cred, err := m.EnsureAccessToken(ctx, user.ID)
		if err != nil {
			t.Fatalf("EnsureAccessToken #%d: %v", i, err)
		}
		if cred.AccessToken != "a1" {
			t.Fatalf("access = %q, want a1", cred.AccessToken)
		}
	}
	if ref.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", ref.calls)
	}
}

func TestEnsureAccessTokenNotRetried(t *testing.T) {
	ctx := context.Background()
	s := storetest.New()
	sealer := mustSealer(t)
	user := storetest.SeedUser(t, s, "ana")
	seedConnection(t, s, sealer, user.ID, "a0", "r0", time.Now().Add(-time.Hour))

	ref := &fakeRefresher{err: apperr.ProviderAuth("503 upstream", errors.New("unavailable"))}
	m := NewTokenManager(s.Connections, sealer, ref)
	if _, err := m.EnsureAccessToken(ctx, user.ID); !errors.Is(err, apperr.ErrProviderAuth) {
		t.Fatalf("err = %v, want ProviderAuth", err)
	}
	if ref.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", ref.calls)
	}
}

func TestEnsureAccessTokenCallerCancelDoesNotFailSharedRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := storetest.New()
	sealer := mustSealer(t)
	user := storetest.SeedUser(t, s, "ana")
	seedConnection(t, s, sealer, user.ID, "a0", "r0", now.Add(-time.Hour))

	ref := &blockingRefresher{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		token:   &provider.Token{AccessToken: "a1", Expiry: now.Add(time.Hour)},
	}
	m := NewTokenManager(s.Connections, sealer, ref)
	m.now = func() time.Time { return now }

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.EnsureAccessToken(firstCtx, user.ID)
		firstErr <- err
	}()
	<-ref.entered

	type result struct {
		cred *Credential
		err  error
	}
	second := make(chan result, 1)
	go func() {
		cred, err := m.EnsureAccessToken(context.Background(), user.ID)
		second <- result{cred, err}
	}()

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want context.Canceled", err)
	}
	close(ref.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller: %v", got.err)
	}
	if got.cred.AccessToken != "a1" {
		t.Fatalf("access = %q, want a1", got.cred.AccessToken)
	}
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", ref.calls)
	}
	if ref.ctxErrs[0] != nil {
		t.Fatalf("shared refresh ran under a cancelled context: %v", ref.ctxErrs[0])
	}
}
