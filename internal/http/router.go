package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/taskcal/internal/api"
	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/config"
	"github.com/jw6ventures/taskcal/internal/http/csrf"
	"github.com/jw6ventures/taskcal/internal/http/ratelimit"
	"github.com/jw6ventures/taskcal/internal/metrics"
	"github.com/jw6ventures/taskcal/internal/store"
)

// NewRouter wires the health, auth, JSON API and capability routes. limiter gates the
// public feed and webhook URLs.
func NewRouter(cfg *config.Config, store *store.Store, authService *auth.Service, apiHandler *api.Handler, limiter ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	proxies := ratelimit.ParseProxies(cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	secure := authService.Sessions().Secure()
	r.Route("/auth", func(r chi.Router) {
		r.Use(authRateLimiter.Middleware("auth"))
		r.Get("/login", authService.BeginLogin)
		r.Get("/callback", authService.HandleCallback)
		r.With(authService.RequireSession, csrf.Middleware(secure)).Post("/logout", authService.Logout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authService.RequireSession)
		r.Use(csrf.Middleware(secure))
		apiHandler.Routes(r)
	})

	// Capability URLs: the token in the path is the credential, so each token and each
	// client address gets its own window.
	r.With(
		ratelimit.Middleware("feed_ip", limiter, ratelimit.KeyByIP(proxies), time.Minute, cfg.RateLimit.FeedPerMinute*4),
		ratelimit.Middleware("feed", limiter, ratelimit.KeyByURLParam("token"), time.Minute, cfg.RateLimit.FeedPerMinute),
	).Get("/feeds/{token}.ics", apiHandler.ServeICS)

	r.With(
		ratelimit.Middleware("webhook_ip", limiter, ratelimit.KeyByIP(proxies), time.Minute, cfg.RateLimit.WebhookPerMinute*4),
		ratelimit.Middleware("webhook", limiter, ratelimit.KeyByURLParam("token"), time.Minute, cfg.RateLimit.WebhookPerMinute),
	).Post("/hooks/{token}/tasks", apiHandler.ReceiveWebhook)

	return r
}
