// Package feeds serves the per-user capability URLs: the ICS feed and the inbound
// task webhook.
package feeds

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/store"
	"github.com/jw6ventures/taskcal/internal/tasks"
)

const tokenBytes = 32

// Service owns feed tokens and the operations they authorize.
type Service struct {
	tokens  store.FeedTokenRepository
	tasks   *tasks.Service
	baseURL string
	name    string
}

// NewService builds a Service. baseURL is the public origin used in feed URLs and
// calendarName labels the ICS feed.
func NewService(tokens store.FeedTokenRepository, taskService *tasks.Service, baseURL, calendarName string) *Service {
	return &Service{
		tokens:  tokens,
		tasks:   taskService,
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    calendarName,
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Tokens returns userID's token pair, creating it on first use.
func (s *Service) Tokens(ctx context.Context, userID string) (*store.FeedTokens, error) {
	existing, err := s.tokens.Get(ctx, userID)
	if err != nil || existing != nil {
		return existing, err
	}
	ics, err := newToken()
	if err != nil {
		return nil, err
	}
	hook, err := newToken()
	if err != nil {
		return nil, err
	}
	return s.tokens.Create(ctx, store.FeedTokens{UserID: userID, ICSToken: ics, WebhookToken: hook})
}

// RotateICSFeedToken replaces the ICS token only. The old value stops resolving at once.
func (s *Service) RotateICSFeedToken(ctx context.Context, userID string) (string, error) {
	return s.rotate(ctx, userID, s.tokens.SetICSToken)
}

// RotateWebhookToken replaces the webhook token only.
func (s *Service) RotateWebhookToken(ctx context.Context, userID string) (string, error) {
	return s.rotate(ctx, userID, s.tokens.SetWebhookToken)
}

func (s *Service) rotate(ctx context.Context, userID string, set func(context.Context, string, string) error) (string, error) {
	if _, err := s.Tokens(ctx, userID); err != nil {
		return "", err
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := set(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

// UserForICSToken resolves the owner of an ICS token.
func (s *Service) UserForICSToken(ctx context.Context, token string) (string, error) {
	return s.resolve(ctx, token, s.tokens.GetByICSToken)
}

// UserForWebhookToken resolves the owner of a webhook token.
func (s *Service) UserForWebhookToken(ctx context.Context, token string) (string, error) {
	return s.resolve(ctx, token, s.tokens.GetByWebhookToken)
}

func (s *Service) resolve(ctx context.Context, token string, lookup func(context.Context, string) (*store.FeedTokens, error)) (string, error) {
	if token == "" {
		return "", apperr.NotFoundOrForbidden()
	}
	ft, err := lookup(ctx, token)
	if err != nil {
		return "", err
	}
	if ft == nil {
		return "", apperr.NotFoundOrForbidden()
	}
	return ft.UserID, nil
}

// URLs are the public capability URLs of one user.
type URLs struct {
	ICS     string `json:"ics"`
	Webhook string `json:"webhook"`
}

// FeedURLs renders userID's capability URLs, creating tokens if needed.
func (s *Service) FeedURLs(ctx context.Context, userID string) (*URLs, error) {
	ft, err := s.Tokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &URLs{
		ICS:     s.baseURL + "/feeds/" + ft.ICSToken + ".ics",
		Webhook: s.baseURL + "/hooks/" + ft.WebhookToken + "/tasks",
	}, nil
}
