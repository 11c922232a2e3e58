// Package config provides centralized configuration management for dolist.
// Configuration is loaded from DOLIST_* environment variables with sensible
// defaults. Required configuration that is missing will cause the application
// to fail fast with helpful error messages.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "DOLIST_"

// Identity provider flavors.
const (
	ProviderLocal = "local"
	ProviderAuth0 = "auth0"
	ProviderOkta  = "okta"
)

// Config holds all application configuration.
type Config struct {
	// Web client configuration
	Port            int           `env:"PORT"`
	PublicURL       string        `env:"PUBLIC_URL"` // externally visible base URL of the web client
	CookieSecure    bool          `env:"COOKIE_SECURE"`
	SessionTTL      time.Duration `env:"SESSION_TTL"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL"`

	// Remote todo API
	APIURL     string        `env:"API_URL"`
	APITimeout time.Duration `env:"API_TIMEOUT"`

	// Identity provider configuration
	AuthProvider     string   `env:"AUTH_PROVIDER"` // "local", "auth0" or "okta"
	OIDCIssuer       string   `env:"OIDC_ISSUER"`
	OIDCClientID     string   `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string   `env:"OIDC_REDIRECT_URL"` // defaults to PublicURL + callback path
	OIDCAudience     string   `env:"OIDC_AUDIENCE"`
	OIDCScopes       []string `env:"OIDC_SCOPES" envSeparator:","`

	// Local development identity provider
	LocalSecret        string        `env:"LOCAL_SECRET"`
	LocalUser          string        `env:"LOCAL_USER"`
	LocalAccessExpiry  time.Duration `env:"LOCAL_ACCESS_EXPIRY"`
	LocalRefreshExpiry time.Duration `env:"LOCAL_REFRESH_EXPIRY"`

	// Session database configuration
	DBType string `env:"DB_TYPE"` // "sqlite" (default) or "postgres"
	DB     string `env:"DB"`      // SQLite file path or PostgreSQL DSN

	// Resource server configuration
	APIPort       int     `env:"API_PORT"`
	APIDB         string  `env:"API_DB"`
	APIDBType     string  `env:"API_DB_TYPE"`
	APICORSOrigin string  `env:"API_CORS_ORIGIN"`
	APIRateLimit  float64 `env:"API_RATE_LIMIT"` // requests per second per IP (0 = disabled)
	APIBurst      int     `env:"API_BURST"`
	APISeed       bool    `env:"API_SEED"`

	// Proxies whose X-Forwarded-For / X-Real-Ip the rate limiter believes
	// (IPs or CIDR ranges). Empty means limit on the peer address.
	APITrustedProxies []string `env:"API_TRUSTED_PROXIES" envSeparator:","`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"` // "text" or "json"
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort               = 8080
	DefaultSessionTTL         = 8 * time.Hour
	DefaultCleanupInterval    = 5 * time.Minute
	DefaultAPIURL             = "http://localhost:9000"
	DefaultAPITimeout         = 2 * time.Second
	DefaultAuthProvider       = ProviderLocal
	DefaultLocalUser          = "dev"
	DefaultLocalAccessExpiry  = 15 * time.Minute
	DefaultLocalRefreshExpiry = 24 * time.Hour
	DefaultDBType             = "sqlite"
	DefaultDBPath             = "dolist.db"
	DefaultAPIPort            = 9000
	DefaultAPIDBPath          = "dolist-api.db"
	DefaultAPICORSOrigin      = "http://localhost:8080"
	DefaultAPIRateLimit       = float64(10)
	DefaultAPIBurst           = 20
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// DefaultOIDCScopes are requested when DOLIST_OIDC_SCOPES is unset.
var DefaultOIDCScopes = []string{"openid", "profile", "email"}

func defaults() *Config {
	return &Config{
		Port:               DefaultPort,
		SessionTTL:         DefaultSessionTTL,
		CleanupInterval:    DefaultCleanupInterval,
		APIURL:             DefaultAPIURL,
		APITimeout:         DefaultAPITimeout,
		AuthProvider:       DefaultAuthProvider,
		OIDCScopes:         append([]string(nil), DefaultOIDCScopes...),
		LocalUser:          DefaultLocalUser,
		LocalAccessExpiry:  DefaultLocalAccessExpiry,
		LocalRefreshExpiry: DefaultLocalRefreshExpiry,
		DBType:             DefaultDBType,
		DB:                 DefaultDBPath,
		APIPort:            DefaultAPIPort,
		APIDB:              DefaultAPIDBPath,
		APIDBType:          DefaultDBType,
		APICORSOrigin:      DefaultAPICORSOrigin,
		APIRateLimit:       DefaultAPIRateLimit,
		APIBurst:           DefaultAPIBurst,
		APISeed:            true,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the web client's
// settings. Returns an error if validation fails.
func Load() (*Config, error) {
	return load((*Config).Validate)
}

// LoadAPI is Load for the resource server.
func LoadAPI() (*Config, error) {
	return load((*Config).ValidateAPI)
}

func load(validate func(*Config) ValidationErrors) (*Config, error) {
	cfg := defaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := validate(cfg); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// loadFromEnv populates the config from environment variables. Fields whose
// variable is unset keep their default.
func (c *Config) loadFromEnv() error {
	err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
	if err == nil {
		return nil
	}

	var parseErrors ValidationErrors
	var agg env.AggregateError
	if errors.As(err, &agg) {
		for _, e := range agg.Errors {
			parseErrors = append(parseErrors, ValidationError{Field: "environment", Message: e.Error()})
		}
	} else {
		parseErrors = append(parseErrors, ValidationError{Field: "environment", Message: err.Error()})
	}
	return parseErrors
}

// Validate checks the settings the web client needs.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = checkPort(errs, "DOLIST_PORT", c.Port)
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_API_URL",
			Message: fmt.Sprintf("invalid API URL: %q (expected absolute http(s) URL)", c.APIURL),
		})
	}
	errs = checkPositive(errs, "DOLIST_API_TIMEOUT", "timeout", c.APITimeout)
	errs = checkPositive(errs, "DOLIST_SESSION_TTL", "session TTL", c.SessionTTL)
	errs = checkPositive(errs, "DOLIST_CLEANUP_INTERVAL", "interval", c.CleanupInterval)

	switch c.AuthProvider {
	case ProviderLocal:
		errs = c.checkLocalSecret(errs)
		if c.LocalUser == "" {
			errs = append(errs, ValidationError{
				Field:   "DOLIST_LOCAL_USER",
				Message: "local user cannot be empty",
			})
		}
	case ProviderAuth0, ProviderOkta:
		errs = c.checkRequired(errs,
			field{"DOLIST_OIDC_ISSUER", c.OIDCIssuer},
			field{"DOLIST_OIDC_CLIENT_ID", c.OIDCClientID},
			field{"DOLIST_OIDC_CLIENT_SECRET", c.OIDCClientSecret},
		)
		if c.AuthProvider == ProviderAuth0 && c.OIDCAudience == "" {
			errs = append(errs, ValidationError{
				Field:   "DOLIST_OIDC_AUDIENCE",
				Message: "auth0 requires an API audience to issue JWT access tokens",
			})
		}
	default:
		errs = c.unknownProvider(errs)
	}

	errs = checkDatabase(errs, field{"DOLIST_DB_TYPE", c.DBType}, field{"DOLIST_DB", c.DB})
	return c.checkLogging(errs)
}

// ValidateAPI checks the settings the resource server needs. It needs no
// client credentials, but an OIDC provider needs the audience its access
// tokens are issued for.
func (c *Config) ValidateAPI() ValidationErrors {
	var errs ValidationErrors

	errs = checkPort(errs, "DOLIST_API_PORT", c.APIPort)

	switch c.AuthProvider {
	case ProviderLocal:
		errs = c.checkLocalSecret(errs)
	case ProviderAuth0, ProviderOkta:
		errs = c.checkRequired(errs,
			field{"DOLIST_OIDC_ISSUER", c.OIDCIssuer},
			field{"DOLIST_OIDC_AUDIENCE", c.OIDCAudience},
		)
	default:
		errs = c.unknownProvider(errs)
	}

	errs = checkDatabase(errs, field{"DOLIST_API_DB_TYPE", c.APIDBType}, field{"DOLIST_API_DB", c.APIDB})

	if c.APIRateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_API_RATE_LIMIT",
			Message: fmt.Sprintf("rate limit cannot be negative: %v", c.APIRateLimit),
		})
	}
	if c.APIRateLimit > 0 && c.APIBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_API_BURST",
			Message: fmt.Sprintf("burst must be at least 1 when rate limiting is enabled, got %d", c.APIBurst),
		})
	}
	for _, p := range c.APITrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		_, perr := netip.ParsePrefix(p)
		if _, aerr := netip.ParseAddr(p); perr != nil && aerr != nil {
			errs = append(errs, ValidationError{
				Field:   "DOLIST_API_TRUSTED_PROXIES",
				Message: fmt.Sprintf("invalid proxy address or range: %q", p),
			})
		}
	}

	return c.checkLogging(errs)
}

// field pairs an environment variable with its value.
type field struct {
	name, value string
}

func checkPort(errs ValidationErrors, name string, port int) ValidationErrors {
	if port < 1 || port > 65535 {
		errs = append(errs, ValidationError{
			Field:   name,
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
		})
	}
	return errs
}

func checkPositive(errs ValidationErrors, name, what string, d time.Duration) ValidationErrors {
	if d <= 0 {
		errs = append(errs, ValidationError{
			Field:   name,
			Message: fmt.Sprintf("%s must be positive: %s", what, d),
		})
	}
	return errs
}

func (c *Config) checkLocalSecret(errs ValidationErrors) ValidationErrors {
	if len(c.LocalSecret) < 32 {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_LOCAL_SECRET",
			Message: "local identity provider requires a secret of at least 32 characters",
		})
	}
	return errs
}

func (c *Config) checkRequired(errs ValidationErrors, fields ...field) ValidationErrors {
	for _, f := range fields {
		if f.value == "" {
			errs = append(errs, ValidationError{
				Field:   f.name,
				Message: fmt.Sprintf("required when DOLIST_AUTH_PROVIDER is %q", c.AuthProvider),
			})
		}
	}
	return errs
}

func (c *Config) unknownProvider(errs ValidationErrors) ValidationErrors {
	return append(errs, ValidationError{
		Field:   "DOLIST_AUTH_PROVIDER",
		Message: fmt.Sprintf("unsupported provider: %q (must be \"local\", \"auth0\" or \"okta\")", c.AuthProvider),
	})
}

func checkDatabase(errs ValidationErrors, dbType, dsn field) ValidationErrors {
	if dbType.value != "sqlite" && dbType.value != "postgres" {
		errs = append(errs, ValidationError{
			Field:   dbType.name,
			Message: fmt.Sprintf("unsupported database type: %q (must be \"sqlite\" or \"postgres\")", dbType.value),
		})
	}
	if dsn.value == "" {
		errs = append(errs, ValidationError{Field: dsn.name, Message: "database path cannot be empty"})
	}
	return errs
}

func (c *Config) checkLogging(errs ValidationErrors) ValidationErrors {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_LOG_LEVEL",
			Message: fmt.Sprintf("invalid log level: %q", c.LogLevel),
		})
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, ValidationError{
			Field:   "DOLIST_LOG_FORMAT",
			Message: fmt.Sprintf("invalid log format: %q (must be \"text\" or \"json\")", c.LogFormat),
		})
	}
	return errs
}

// CallbackPath returns the route the identity provider redirects back to.
// Okta's hosted login uses /implicit/callback; everything else /callback.
func (c *Config) CallbackPath() string {
	if c.AuthProvider == ProviderOkta {
		return "/implicit/callback"
	}
	return "/callback"
}

// BaseURL returns the externally visible URL of the web client.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// RedirectURL returns the OAuth2 redirect URL registered with the provider.
func (c *Config) RedirectURL() string {
	if c.OIDCRedirectURL != "" {
		return c.OIDCRedirectURL
	}
	return c.BaseURL() + c.CallbackPath()
}

// Level returns the configured slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds the process logger from the logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// MustLoadAPI loads the resource server's configuration and exits if it
// fails. Use this for application startup where configuration errors are
// fatal.
func MustLoadAPI() *Config {
	cfg, err := LoadAPI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n\nSee .env.example for configuration options.\n", err)
		os.Exit(1)
	}
	return cfg
}

// LoadWithFlags loads configuration from environment variables,
// then applies command-line flag overrides.
func LoadWithFlags(port int, apiURL string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Apply flag overrides (only if non-default values provided)
	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if apiURL != "" && apiURL != DefaultAPIURL {
		cfg.APIURL = apiURL
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
