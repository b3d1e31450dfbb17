// Package provider talks to the external calendar provider: OAuth2 token endpoints and
// the Google Calendar v3 REST API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jw6ventures/taskcal/internal/apperr"
	"github.com/jw6ventures/taskcal/internal/metrics"
	"github.com/jw6ventures/taskcal/internal/schema"
)

// Name identifies the provider on stored connections.
const Name = "google"

// GoogleEndpoint is used when no issuer is discovered.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// CalendarScope grants read/write access to calendars and events.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

var userInfoSchema = schema.MustCompile("provider-userinfo.json", `{
	"type": "object",
	"properties": {"email": {"type": "string", "minLength": 1}},
	"required": ["email"]
}`)

// Token is the subset of an OAuth2 token the service persists.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// OAuthOptions configures an OAuth client.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	// UserInfoURL is queried with the access token to learn the account email.
	UserInfoURL string
	Scopes      []string
	HTTPClient  *http.Client
}

// OAuth performs the authorization code and refresh grants.
type OAuth struct {
	cfg         *oauth2.Config
	oidc        *oidc.Provider
	userInfoURL string
	httpClient  *http.Client
}

// NewOAuth builds a client for explicitly configured endpoints.
func NewOAuth(opts OAuthOptions) *OAuth {
	endpoint := opts.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = GoogleEndpoint
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", CalendarScope}
	}
	userInfoURL := strings.TrimSpace(opts.UserInfoURL)
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
	}
}

// DiscoverOAuth builds a client from the issuer's OpenID configuration. The
// discovered user-info endpoint replaces opts.UserInfoURL.
func DiscoverOAuth(ctx context.Context, issuer string, opts OAuthOptions) (*OAuth, error) {
	o := NewOAuth(opts)
	p, err := oidc.NewProvider(o.clientContext(ctx), issuer)
	if err != nil {
		return nil, apperr.Configuration("discover calendar provider", err)
	}
	o.cfg.Endpoint = p.Endpoint()
	o.oidc = p
	return o, nil
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// AuthCodeURL asks for offline access and forces the consent screen so a refresh token
// is issued on every connect.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*Token, error) {
	start := time.Now()
	tok, err := o.cfg.Exchange(o.clientContext(ctx), code)
	observeOAuth("oauth.exchange", err, start)
	if err != nil {
		return nil, oauthError(err)
	}
	return fromOAuth2(tok), nil
}

// Refresh redeems a refresh token. The returned RefreshToken is empty when the
// provider did not rotate it.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	start := time.Now()
	src := o.cfg.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	observeOAuth("oauth.refresh", err, start)
	if err != nil {
		return nil, oauthError(err)
	}
	out := fromOAuth2(tok)
	// x/oauth2 copies the old refresh token forward when none is returned.
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}

// UserEmail returns the email of the account that granted accessToken.
func (o *OAuth) UserEmail(ctx context.Context, accessToken string) (string, error) {
	start := time.Now()
	if o.oidc != nil {
		info, err := o.oidc.UserInfo(o.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
		observeOAuth("oauth.userinfo", err, start)
		if err != nil {
			return "", apperr.ProviderAuth(err.Error(), err)
		}
		if info.Email == "" {
			return "", apperr.ProviderAuth("user info has no email", nil)
		}
		return info.Email, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest("oauth.userinfo", 0, start)
		return "", apperr.ProviderAuth(err.Error(), err)
	}
	defer resp.Body.Close()
	metrics.ObserveProviderRequest("oauth.userinfo", resp.StatusCode, start)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperr.ProviderAuth(err.Error(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperr.ProviderAuth(strings.TrimSpace(string(body)), fmt.Errorf("userinfo status %d", resp.StatusCode))
	}
	if err := userInfoSchema.Validate(body); err != nil {
		return "", apperr.ProviderAuth(err.Error(), err)
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", apperr.ProviderAuth(err.Error(), err)
	}
	return info.Email, nil
}

func fromOAuth2(tok *oauth2.Token) *Token {
	return &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
}

// oauthError keeps the provider's raw error body for diagnostics.
func oauthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		detail := strings.TrimSpace(string(re.Body))
		if detail == "" && re.Response != nil {
			detail = re.Response.Status
		}
		return apperr.ProviderAuth(detail, err)
	}
	return apperr.ProviderAuth(err.Error(), err)
}

func observeOAuth(op string, err error, start time.Time) {
	status := http.StatusOK
	if err != nil {
		status = 0
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			status = re.Response.StatusCode
		}
	}
	metrics.ObserveProviderRequest(op, status, start)
}
