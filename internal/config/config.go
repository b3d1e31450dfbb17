// Package config loads runtime settings from an optional TOML file and APP_* environment
// variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/jw6ventures/taskcal/internal/seal"
)

const (
	RateLimitMemory = "memory"
	RateLimitValkey = "valkey"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	BaseURL    string `mapstructure:"base_url"`

	DB struct {
		DSN      string `mapstructure:"dsn"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	// OAuth is the login identity provider.
	OAuth struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		IssuerURL    string `mapstructure:"issuer_url"`
		DiscoveryURL string `mapstructure:"discovery_url"`
		RedirectPath string `mapstructure:"redirect_path"`
	} `mapstructure:"oauth"`

	Session struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"session"`

	// Google is the calendar provider. Client credentials default to the login client.
	Google struct {
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		IssuerURL       string `mapstructure:"issuer_url"`
		RedirectPath    string `mapstructure:"redirect_path"`
		CalendarBaseURL string `mapstructure:"calendar_base_url"`
	} `mapstructure:"google"`

	Calendar struct {
		// Name is the reserved remote calendar sync writes into.
		Name string `mapstructure:"name"`
	} `mapstructure:"calendar"`

	// TokenEncryptionKey is a 32-byte key, hex or base64. Empty stores provider tokens
	// behind the plain tag.
	TokenEncryptionKey string `mapstructure:"token_encryption_key"`

	RateLimit struct {
		Backend          string `mapstructure:"backend"`
		ValkeyURL        string `mapstructure:"valkey_url"`
		FeedPerMinute    int    `mapstructure:"feed_per_minute"`
		WebhookPerMinute int    `mapstructure:"webhook_per_minute"`
	} `mapstructure:"rate_limit"`

	PrometheusEnabled bool     `mapstructure:"prometheus_enabled"`
	TrustedProxies    []string `mapstructure:"trusted_proxies"`
}

func defaults() *Config {
	cfg := &Config{
		ListenAddr: ":8080",
		BaseURL:    "http://localhost:8080",
	}
	cfg.DB.Port = "5432"
	cfg.DB.SSLMode = "disable"
	cfg.OAuth.RedirectPath = "/auth/callback"
	cfg.Google.IssuerURL = "https://accounts.google.com"
	cfg.Google.RedirectPath = "/api/integrations/google/callback"
	cfg.Google.CalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	cfg.Calendar.Name = "TaskCal"
	cfg.RateLimit.Backend = RateLimitMemory
	cfg.RateLimit.FeedPerMinute = 30
	cfg.RateLimit.WebhookPerMinute = 60
	return cfg
}

// Load reads APP_CONFIG_FILE (when set) and the environment, then validates the result.
func Load() (*Config, error) {
	return load(slog.Default())
}

func load(logger *slog.Logger) (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		unused, err := decodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if len(unused) > 0 {
			logger.Warn("config file contains unused keys", "path", path, "keys", unused)
		}
	}
	applyEnv(cfg)

	if cfg.DB.DSN == "" {
		var missing []string
		for _, f := range []struct{ env, v string }{
			{"APP_DB_HOST", cfg.DB.Host},
			{"APP_DB_NAME", cfg.DB.Name},
			{"APP_DB_USER", cfg.DB.User},
			{"APP_DB_PASSWORD", cfg.DB.Password},
		} {
			if f.v == "" {
				missing = append(missing, f.env)
			}
		}
		if len(missing) == 0 {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name, cfg.DB.SSLMode)
		}
	}
	if cfg.Google.ClientID == "" {
		cfg.Google.ClientID = cfg.OAuth.ClientID
		cfg.Google.ClientSecret = cfg.OAuth.ClientSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.TrustedProxies) == 0 {
		logger.Warn("no APP_TRUSTED_PROXIES configured; forwarding headers are trusted from any peer")
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.DB.DSN == "" {
		return errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
		return errors.New("oauth configuration is required: client id and secret")
	}
	if cfg.OAuth.DiscoveryURL == "" && cfg.OAuth.IssuerURL == "" {
		return errors.New("APP_OAUTH_DISCOVERY_URL or APP_OAUTH_ISSUER_URL is required")
	}
	if cfg.Session.Secret == "" {
		return errors.New("APP_SESSION_SECRET is required")
	}
	if len(cfg.Session.Secret) < 32 {
		return fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret))
	}
	if strings.TrimSpace(cfg.Calendar.Name) == "" {
		return errors.New("calendar name must not be empty")
	}
	switch cfg.RateLimit.Backend {
	case RateLimitMemory:
	case RateLimitValkey:
		if cfg.RateLimit.ValkeyURL == "" {
			return errors.New("APP_VALKEY_URL is required when the rate limit backend is valkey")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q (want memory or valkey)", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.FeedPerMinute <= 0 || cfg.RateLimit.WebhookPerMinute <= 0 {
		return errors.New("rate limits must be positive")
	}
	if _, err := seal.New(cfg.TokenEncryptionKey); err != nil {
		return err
	}
	return nil
}

// decodeFile merges a TOML file into cfg and returns keys nothing consumed.
func decodeFile(path string, cfg *Config) ([]string, error) {
	raw := map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}

func applyEnv(cfg *Config) {
	for _, e := range []struct {
		key string
		dst *string
	}{
		{"APP_LISTEN_ADDR", &cfg.ListenAddr},
		{"APP_BASE_URL", &cfg.BaseURL},
		{"APP_DB_DSN", &cfg.DB.DSN},
		{"APP_DB_HOST", &cfg.DB.Host},
		{"APP_DB_PORT", &cfg.DB.Port},
		{"APP_DB_NAME", &cfg.DB.Name},
		{"APP_DB_USER", &cfg.DB.User},
		{"APP_DB_PASSWORD", &cfg.DB.Password},
		{"APP_DB_SSLMODE", &cfg.DB.SSLMode},
		{"APP_OAUTH_CLIENT_ID", &cfg.OAuth.ClientID},
		{"APP_OAUTH_CLIENT_SECRET", &cfg.OAuth.ClientSecret},
		{"APP_OAUTH_ISSUER_URL", &cfg.OAuth.IssuerURL},
		{"APP_OAUTH_DISCOVERY_URL", &cfg.OAuth.DiscoveryURL},
		{"APP_OAUTH_REDIRECT_PATH", &cfg.OAuth.RedirectPath},
		{"APP_SESSION_SECRET", &cfg.Session.Secret},
		{"APP_GOOGLE_CLIENT_ID", &cfg.Google.ClientID},
		{"APP_GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret},
		{"APP_GOOGLE_ISSUER_URL", &cfg.Google.IssuerURL},
		{"APP_GOOGLE_REDIRECT_PATH", &cfg.Google.RedirectPath},
		{"APP_GOOGLE_CALENDAR_BASE_URL", &cfg.Google.CalendarBaseURL},
		{"APP_CALENDAR_NAME", &cfg.Calendar.Name},
		{"APP_TOKEN_ENCRYPTION_KEY", &cfg.TokenEncryptionKey},
		{"APP_RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend},
		{"APP_VALKEY_URL", &cfg.RateLimit.ValkeyURL},
	} {
		*e.dst = getenvDefault(e.key, *e.dst)
	}
	cfg.RateLimit.FeedPerMinute = getenvInt("APP_FEED_RATE_PER_MINUTE", cfg.RateLimit.FeedPerMinute)
	cfg.RateLimit.WebhookPerMinute = getenvInt("APP_WEBHOOK_RATE_PER_MINUTE", cfg.RateLimit.WebhookPerMinute)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	if proxies := getenvList("APP_TRUSTED_PROXIES"); proxies != nil {
		cfg.TrustedProxies = proxies
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
