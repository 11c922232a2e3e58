package testutil

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rjsadow/dolist/internal/api"
	"github.com/rjsadow/dolist/internal/config"
	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/db/dbtest"
	"github.com/rjsadow/dolist/internal/identity"
	"github.com/rjsadow/dolist/internal/middleware"
	"github.com/rjsadow/dolist/internal/server"
	"github.com/rjsadow/dolist/internal/todos"
	"golang.org/x/time/rate"
)

const (
	// TestSecret signs every token minted by the local identity provider.
	TestSecret = "integration-secret-that-is-at-least-32-characters" //nolint:gosec // gitleaks:allow
	// TestAudience is the resource server audience carried by access tokens.
	TestAudience = "https://api.dolist.test"
	// TestUser is the identity the local provider logs in.
	TestUser = "alice"
)

// Stack is a running web client and resource server pair, wired together the
// way the two binaries are in production.
type Stack struct {
	// URL is the base URL of the web client.
	URL string
	// APIURL is the base URL of the resource server.
	APIURL string
	// WebDB stores login states and sessions.
	WebDB *db.DB
	// APIDB stores todos.
	APIDB *db.DB
	// Sessions is the web client's session manager.
	Sessions *identity.Manager
	// Config is the web client's configuration.
	Config *config.Config
}

// Option modifies the configuration before the stack is built.
type Option func(*config.Config)

// WithAccessExpiry sets how long local access tokens live.
func WithAccessExpiry(d time.Duration) Option {
	return func(c *config.Config) { c.LocalAccessExpiry = d }
}

// WithRateLimit enables per-IP rate limiting on the resource server.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config.Config) {
		c.APIRateLimit = rps
		c.APIBurst = burst
	}
}

// WithSeed seeds the resource server with sample todos.
func WithSeed() Option {
	return func(c *config.Config) { c.APISeed = true }
}

// NewStack starts a fully wired stack:
//   - resource server on its own database, verifying local HS256 tokens
//   - web client with the local identity provider mounted under /local/
//   - todos client from the web client to the resource server
//
// Everything is closed when the test completes.
func NewStack(t *testing.T, opts ...Option) *Stack {
	t.Helper()

	// The web client URL must be known before the provider is built.
	var webHandler http.Handler
	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(web.Close)

	cfg := &config.Config{
		PublicURL:          web.URL,
		SessionTTL:         time.Hour,
		APITimeout:         2 * time.Second,
		AuthProvider:       config.ProviderLocal,
		OIDCAudience:       TestAudience,
		LocalSecret:        TestSecret,
		LocalUser:          TestUser,
		LocalAccessExpiry:  15 * time.Minute,
		LocalRefreshExpiry: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	// 1. Resource server
	apiDB := dbtest.NewTestDB(t)
	if cfg.APISeed {
		if err := api.Seed(ctx, apiDB); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	verifier, err := identity.NewVerifier(ctx, cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	var limiter *middleware.RateLimiter
	if cfg.APIRateLimit > 0 {
		limiter = middleware.NewRateLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIBurst)
	}
	apiSrv := httptest.NewServer((&api.Server{
		DB:         apiDB,
		Verifier:   verifier,
		CORSOrigin: web.URL,
		Limiter:    limiter,
		Logger:     logger,
	}).Handler())
	t.Cleanup(apiSrv.Close)
	cfg.APIURL = apiSrv.URL

	// 2. Web client
	webDB := dbtest.NewTestDB(t)
	provider, err := identity.NewProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	manager := identity.NewManager(webDB, provider, cfg.SessionTTL, logger)
	client, err := todos.NewClient(nil, todos.Config{BaseURL: cfg.APIURL, Timeout: cfg.APITimeout, Logger: logger})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	app := &server.App{
		DB:          webDB,
		Sessions:    manager,
		Todos:       client,
		Config:      cfg,
		Logger:      logger,
		LocalIssuer: provider.(*identity.LocalProvider).Handler(),
	}
	webHandler = app.Handler()

	return &Stack{
		URL:      web.URL,
		APIURL:   apiSrv.URL,
		WebDB:    webDB,
		APIDB:    apiDB,
		Sessions: manager,
		Config:   cfg,
	}
}

// Browser returns a client that keeps cookies and follows redirects.
func (s *Stack) Browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

// NoFollow returns a client sharing browser's cookies that stops at the first
// redirect.
func NoFollow(browser *http.Client) *http.Client {
	return &http.Client{
		Jar: browser.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Login drives the hosted-login handshake with browser and fails the test
// unless it lands on the todo page.
func (s *Stack) Login(t *testing.T, browser *http.Client) {
	t.Helper()
	resp, err := browser.Get(s.URL + "/login")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/todos" {
		t.Fatalf("expected to land on /todos after login, got %d %s", resp.StatusCode, resp.Request.URL.Path)
	}
}

// SessionID returns browser's session cookie value.
func (s *Stack) SessionID(t *testing.T, browser *http.Client) string {
	t.Helper()
	u, _ := url.Parse(s.URL)
	for _, c := range browser.Jar.Cookies(u) {
		if c.Name == middleware.SessionCookie {
			return c.Value
		}
	}
	t.Fatal("no session cookie")
	return ""
}

// AccessToken logs a fresh browser in and returns the access token held by
// its server-side session.
func (s *Stack) AccessToken(t *testing.T) string {
	t.Helper()
	browser := s.Browser(t)
	s.Login(t, browser)

	ctx := context.Background()
	sess, err := s.Sessions.Lookup(ctx, s.SessionID(t, browser))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	tok, err := sess.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	return tok
}
