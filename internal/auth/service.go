package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	httperrors "github.com/jw6ventures/taskcal/internal/http/errors"
	"github.com/jw6ventures/taskcal/internal/store"
)

const (
	loginStateCookie = "taskcal_login"
	loginStateTTL    = 10 * time.Minute
)

type loginState struct {
	State string `json:"s"`
	Nonce string `json:"n"`
}

type idClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Nonce   string `json:"nonce"`
}

// LoginOptions configures the OIDC login flow.
type LoginOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer is the OIDC issuer; DiscoveryURL may point at its well-known document instead.
	Issuer       string
	DiscoveryURL string
}

// Service runs OIDC login and guards session-authenticated routes.
type Service struct {
	users    store.UserRepository
	sessions *SessionManager
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	logger   *slog.Logger
}

// NewService discovers the identity provider and builds a Service.
func NewService(ctx context.Context, opts LoginOptions, users store.UserRepository, sessions *SessionManager, logger *slog.Logger) (*Service, error) {
	issuer := opts.Issuer
	if issuer == "" {
		issuer = strings.TrimSuffix(strings.TrimRight(opts.DiscoveryURL, "/"), "/.well-known/openid-configuration")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider %s: %w", issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: opts.ClientID})
	return newService(opts, provider.Endpoint(), verifier, users, sessions, logger), nil
}

func newService(opts LoginOptions, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, users store.UserRepository, sessions *SessionManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: verifier,
		logger:   logger,
	}
}

// Sessions exposes the cookie manager for handlers that keep their own state cookies.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

func randomString() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BeginLogin redirects to the identity provider.
func (s *Service) BeginLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomString()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate login state")
		return
	}
	nonce, err := randomString()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate login nonce")
		return
	}
	if err := s.sessions.SetState(w, loginStateCookie, loginState{State: state, Nonce: nonce}, loginStateTTL); err != nil {
		httperrors.InternalError(w, r, err, "store login state")
		return
	}
	http.Redirect(w, r, s.oauth.AuthCodeURL(state, oidc.Nonce(nonce)), http.StatusFound)
}

// HandleCallback verifies the ID token, upserts the user and starts a session.
func (s *Service) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var saved loginState
	if err := s.sessions.ReadState(r, loginStateCookie, &saved); err != nil {
		httperrors.BadRequestError(w, r, err, "login session expired; start again")
		return
	}
	s.sessions.ClearState(w, loginStateCookie)
	if q := r.URL.Query(); q.Get("state") == "" || q.Get("state") != saved.State {
		httperrors.BadRequestError(w, r, errors.New("state mismatch"), "invalid login state")
		return
	} else if e := q.Get("error"); e != "" {
		httperrors.BadRequestError(w, r, fmt.Errorf("provider error: %s", e), "login was not completed")
		return
	}

	user, err := s.completeLogin(ctx, r.URL.Query().Get("code"), saved.Nonce)
	if err != nil {
		s.logger.WarnContext(ctx, "login failed", "err", err)
		httperrors.WriteStatus(w, http.StatusUnauthorized, "login failed", "unauthenticated")
		return
	}
	if err := s.sessions.Issue(w, user.ID); err != nil {
		httperrors.InternalError(w, r, err, "issue session")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Service) completeLogin(ctx context.Context, code, nonce string) (*store.User, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, errors.New("token response has no id_token")
	}
	idToken, err := s.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if claims.Nonce != nonce {
		return nil, errors.New("nonce mismatch")
	}
	if claims.Email == "" {
		return nil, errors.New("id token has no email")
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return s.users.UpsertOAuthUser(ctx, idToken.Subject, claims.Email, name)
}

// Logout ends the session.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// RequireSession loads the session user into the request context or answers 401.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.sessions.CurrentUserID(r)
		if !ok {
			httperrors.WriteStatus(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
			return
		}
		user, err := s.users.GetByID(r.Context(), userID)
		if err != nil {
			httperrors.InternalError(w, r, err, "load session user")
			return
		}
		if user == nil {
			s.sessions.Clear(w)
			httperrors.WriteStatus(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
