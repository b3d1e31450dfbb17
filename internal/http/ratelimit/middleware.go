package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/taskcal/internal/metrics"
)

// KeyFunc derives the counter key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// KeyByIP keys on the client address.
func KeyByIP(proxies []*net.IPNet) KeyFunc {
	return func(r *http.Request) string {
		return "ip:" + ClientIP(r, proxies)
	}
}

// KeyByURLParam keys on a chi route parameter, such as a capability token.
func KeyByURLParam(name string) KeyFunc {
	return func(r *http.Request) string {
		if v := chi.URLParam(r, name); v != "" {
			return name + ":" + v
		}
		return ""
	}
}

// Middleware enforces max hits per window for each key. Limiter failures let the request
// through and are logged.
func Middleware(scope string, l Limiter, key KeyFunc, window time.Duration, max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			d, err := l.Allow(r.Context(), scope+":"+k, window, max)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable", "scope", scope, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				metrics.IncRateLimited(scope)
				writeTooMany(w, time.Until(d.ResetAt))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooMany(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)+1))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests", "code": "rate_limited"})
}
