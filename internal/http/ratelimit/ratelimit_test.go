package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

func TestClientIP(t *testing.T) {
	proxies := ParseProxies([]string{"10.0.0.0/8", "192.168.1.1", "not-an-ip"})
	if len(proxies) != 2 {
		t.Fatalf("parsed %d proxies, want 2", len(proxies))
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		proxies bool
		want    string
	}{
		{name: "direct peer", remote: "203.0.113.7:5555", want: "203.0.113.7"},
		{name: "no proxies trusts xff", remote: "203.0.113.7:5555", xff: "198.51.100.1, 10.0.0.2", want: "198.51.100.1"},
		{name: "trusted proxy xff", remote: "10.1.2.3:80", xff: "198.51.100.1", proxies: true, want: "198.51.100.1"},
		{name: "untrusted peer ignores xff", remote: "203.0.113.7:5555", xff: "198.51.100.1", proxies: true, want: "203.0.113.7"},
		{name: "single trusted ip real-ip", remote: "192.168.1.1:80", realIP: "198.51.100.9", proxies: true, want: "198.51.100.9"},
		{name: "garbage xff falls back", remote: "10.1.2.3:80", xff: "nope", proxies: true, want: "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			var p = proxies
			if !tt.proxies {
				p = nil
			}
			if got := ClientIP(r, p); got != tt.want {
				t.Fatalf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIPRateLimiterMiddleware(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 2, time.Minute, nil)
	defer l.Close()
	h := l.Middleware("auth")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		r.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	r.RemoteAddr = "203.0.113.8:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client got %d", rec.Code)
	}
}

func exerciseLimiter(t *testing.T, l Limiter, expire func()) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "k", time.Minute, 2)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		wantAllowed := i <= 2
		wantRemaining := 2 - i
		if wantRemaining < 0 {
			wantRemaining = 0
		}
		if d.Allowed != wantAllowed || d.Remaining != wantRemaining || d.Limit != 2 {
			t.Fatalf("Allow #%d = %+v", i, d)
		}
	}

	other, err := l.Allow(ctx, "other", time.Minute, 2)
	if err != nil || !other.Allowed {
		t.Fatalf("independent key = %+v, %v", other, err)
	}

	expire()
	d, err := l.Allow(ctx, "k", time.Minute, 2)
	if err != nil {
		t.Fatalf("Allow after window: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after window = %+v", d)
	}
}

func TestMemoryLimiter(t *testing.T) {
	m := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	exerciseLimiter(t, m, func() { now = now.Add(time.Minute) })
}

func TestValkeyLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	v, err := NewValkeyLimiter("redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("NewValkeyLimiter: %v", err)
	}
	defer v.Close()

	exerciseLimiter(t, v, func() { mr.FastForward(time.Minute + time.Second) })

	if !mr.Exists("test:k") {
		t.Fatalf("counter not stored under prefix")
	}
	if ttl := mr.TTL("test:k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestMiddlewareHeadersAndRejection(t *testing.T) {
	r := chi.NewRouter()
	r.With(Middleware("feed", NewMemoryLimiter(), KeyByURLParam("token"), time.Minute, 1)).
		Get("/feeds/{token}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	first := get("/feeds/abc")
	if first.Code != http.StatusOK {
		t.Fatalf("first = %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", first.Header())
	}

	second := get("/feeds/abc")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	if other := get("/feeds/xyz"); other.Code != http.StatusOK {
		t.Fatalf("other token = %d", other.Code)
	}
}
