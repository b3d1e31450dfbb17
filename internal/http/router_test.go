package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/api"
	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/config"
	"github.com/jw6ventures/taskcal/internal/feeds"
	"github.com/jw6ventures/taskcal/internal/http/csrf"
	"github.com/jw6ventures/taskcal/internal/http/ratelimit"
	"github.com/jw6ventures/taskcal/internal/integration"
	"github.com/jw6ventures/taskcal/internal/seal"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/store/storetest"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

// newDiscoveryServer serves just enough of an OpenID configuration for provider discovery.
func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/authorize",
			"token_endpoint":                        srv.URL + "/token",
			"jwks_uri":                              srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type routerFixture struct {
	router   http.Handler
	store    *store.Store
	sessions *auth.SessionManager
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	idp := newDiscoveryServer(t)
	s := storetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{BaseURL: "http://localhost:8080", PrometheusEnabled: true}
	cfg.RateLimit.FeedPerMinute = 2
	cfg.RateLimit.WebhookPerMinute = 2

	sessions, err := auth.NewSessionManager("router-test-secret-0123456789abcdef", cfg.BaseURL)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	authService, err := auth.NewService(t.Context(), auth.LoginOptions{
		ClientID:    "taskcal",
		RedirectURL: cfg.BaseURL + "/auth/callback",
		Issuer:      idp.URL,
	}, s.Users, sessions, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	sealer, _ := seal.New("")
	taskService := tasks.NewService(s, activity.NewRecorder(s.Activities, s.Users, logger))
	feedService := feeds.NewService(s.FeedTokens, taskService, cfg.BaseURL, "TaskCal")
	h := api.NewHandler(api.Deps{
		Tasks:     taskService,
		Feeds:     feedService,
		Connector: integration.NewConnector(nil, s.Connections, sealer, feedService),
		Syncer:    integration.NewSyncer(integration.NewTokenManager(s.Connections, sealer, nil), nil, s, "", logger),
		Sessions:  sessions,
	})
	return &routerFixture{
		router:   NewRouter(cfg, &store.Store{}, authService, h, ratelimit.NewMemoryLimiter()),
		store:    s,
		sessions: sessions,
	}
}

func (f *routerFixture) sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := f.sessions.Issue(rec, userID); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return rec.Result().Cookies()[0]
}

func (f *routerFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	f := newRouterFixture(t)
	tests := []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/lists", http.StatusUnauthorized},
		{"/auth/login", http.StatusFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := f.serve(httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.status {
				t.Fatalf("GET %s = %d, want %d", tc.path, rec.Code, tc.status)
			}
		})
	}
}

func TestAPIRequiresSessionAndCSRF(t *testing.T) {
	f := newRouterFixture(t)
	u := storetest.SeedUser(t, f.store, "ana")
	session := f.sessionCookie(t, u.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(session)
	rec := f.serve(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session = %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		User      struct{ ID string } `json:"user"`
		CSRFToken string              `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.ID != u.ID || body.CSRFToken == "" {
		t.Fatalf("session body = %+v", body)
	}
	csrfCookie := &http.Cookie{Name: csrf.CookieName, Value: body.CSRFToken}

	req = httptest.NewRequest(http.MethodPost, "/api/lists", strings.NewReader(`{"name":"Inbox"}`))
	req.AddCookie(session)
	req.AddCookie(csrfCookie)
	if rec := f.serve(req); rec.Code != http.StatusForbidden {
		t.Fatalf("missing csrf header = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/lists", strings.NewReader(`{"name":"Inbox"}`))
	req.AddCookie(session)
	req.AddCookie(csrfCookie)
	req.Header.Set(csrf.HeaderName, body.CSRFToken)
	if rec := f.serve(req); rec.Code != http.StatusCreated {
		t.Fatalf("create list = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCapabilityRoutesAreRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	want := []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}
	for i, status := range want {
		rec := f.serve(httptest.NewRequest(http.MethodGet, "/feeds/unknown-token.ics", nil))
		if rec.Code != status {
			t.Fatalf("request %d = %d, want %d", i, rec.Code, status)
		}
	}

	// A different token has its own window.
	if rec := f.serve(httptest.NewRequest(http.MethodGet, "/feeds/other-token.ics", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("other token = %d", rec.Code)
	}
	rec := f.serve(httptest.NewRequest(http.MethodPost, "/hooks/unknown/tasks", strings.NewReader(`{"title":"x"}`)))
	if rec.Code != http.StatusNotFound || rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("webhook = %d limit %q", rec.Code, rec.Header().Get("X-RateLimit-Limit"))
	}
}
