package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jw6ventures/taskcal/internal/activity"
	"github.com/jw6ventures/taskcal/internal/api"
	"github.com/jw6ventures/taskcal/internal/auth"
	"github.com/jw6ventures/taskcal/internal/config"
	"github.com/jw6ventures/taskcal/internal/feeds"
	httpserver "github.com/jw6ventures/taskcal/internal/http"
	"github.com/jw6ventures/taskcal/internal/http/ratelimit"
	"github.com/jw6ventures/taskcal/internal/integration"
	"github.com/jw6ventures/taskcal/internal/provider"
	"github.com/jw6ventures/taskcal/internal/seal"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	logger.Info("starting taskcal server")
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool, logger); err != nil {
		return err
	}
	stor := store.New(pool)

	sealer, err := seal.New(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}
	if !sealer.Encrypted() {
		logger.Warn("APP_TOKEN_ENCRYPTION_KEY is not set; provider tokens are stored unencrypted")
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case config.RateLimitValkey:
		vl, err := ratelimit.NewValkeyLimiter(cfg.RateLimit.ValkeyURL, "taskcal:rl:")
		if err != nil {
			return err
		}
		defer vl.Close()
		limiter = vl
	default:
		limiter = ratelimit.NewMemoryLimiter()
	}

	oauthOpts := provider.OAuthOptions{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.BaseURL + cfg.Google.RedirectPath,
	}
	var oauth *provider.OAuth
	if cfg.Google.IssuerURL != "" {
		if oauth, err = provider.DiscoverOAuth(ctx, cfg.Google.IssuerURL, oauthOpts); err != nil {
			return err
		}
	} else {
		oauth = provider.NewOAuth(oauthOpts)
	}
	calendar := provider.NewCalendarClient(provider.CalendarClientOptions{
		BaseURL:   cfg.Google.CalendarBaseURL,
		UserAgent: "taskcal",
	})

	recorder := activity.NewRecorder(stor.Activities, stor.Users, logger)
	taskService := tasks.NewService(stor, recorder)
	feedService := feeds.NewService(stor.FeedTokens, taskService, cfg.BaseURL, cfg.Calendar.Name)
	tokens := integration.NewTokenManager(stor.Connections, sealer, oauth)
	syncer := integration.NewSyncer(tokens, calendar, stor, cfg.Calendar.Name, logger)
	connector := integration.NewConnector(oauth, stor.Connections, sealer, feedService)

	sessions, err := auth.NewSessionManager(cfg.Session.Secret, cfg.BaseURL)
	if err != nil {
		return err
	}
	authService, err := auth.NewService(ctx, auth.LoginOptions{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.BaseURL + cfg.OAuth.RedirectPath,
		Issuer:       cfg.OAuth.IssuerURL,
		DiscoveryURL: cfg.OAuth.DiscoveryURL,
	}, stor.Users, sessions, logger)
	if err != nil {
		return err
	}

	apiHandler := api.NewHandler(api.Deps{
		Tasks:     taskService,
		Feeds:     feedService,
		Connector: connector,
		Syncer:    syncer,
		Sessions:  sessions,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpserver.NewRouter(cfg, stor, authService, apiHandler, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
	}
	return nil
}
