package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rjsadow/dolist/internal/db"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultStateTTL bounds how long a hosted login may take.
const DefaultStateTTL = 10 * time.Minute

// Manager runs the hosted-login handshake and owns server-side sessions.
type Manager struct {
	db       *db.DB
	provider Provider
	ttl      time.Duration
	stateTTL time.Duration
	logger   *slog.Logger

	// Refreshes are shared per session ID across all *Session values that
	// Lookup hands out for it.
	refreshes singleflight.Group
}

// NewManager creates a session manager. Sessions live for ttl after login.
func NewManager(database *db.DB, provider Provider, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:       database,
		provider: provider,
		ttl:      ttl,
		stateTTL: DefaultStateTTL,
		logger:   logger,
	}
}

// Provider returns the configured identity provider.
func (m *Manager) Provider() Provider {
	return m.provider
}

// Begin records a login attempt and returns the provider's hosted-login URL.
// redirect is where the user lands after the callback; anything other than a
// local path is replaced with "/".
func (m *Manager) Begin(ctx context.Context, redirect string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	if err := m.db.SaveOIDCState(ctx, state, SanitizeRedirect(redirect), time.Now().Add(m.stateTTL)); err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}
	return m.provider.AuthCodeURL(state), nil
}

// Complete finishes the handshake started by Begin. It returns the new
// session and the path the user originally asked for.
func (m *Manager) Complete(ctx context.Context, code, state string) (*Session, string, error) {
	if state == "" {
		return nil, "", ErrInvalidState
	}
	redirect, expiresAt, err := m.db.ConsumeOIDCState(ctx, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrInvalidState
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load state: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, "", ErrStateExpired
	}

	tok, ident, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	record := db.Session{
		ID:           uuid.NewString(),
		Subject:      ident.Subject,
		Email:        ident.Email,
		Name:         ident.Name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		TokenExpiry:  tok.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.db.CreateSession(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("login completed", "subject", ident.Subject, "provider", m.provider.Name())
	return m.newSession(record), redirect, nil
}

// Lookup returns the live session with the given ID.
func (m *Manager) Lookup(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	record, err := m.db.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if record == nil {
		return nil, ErrNoSession
	}
	return m.newSession(*record), nil
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.db.DeleteSession(ctx, id)
}

// Cleanup removes expired login states and sessions.
func (m *Manager) Cleanup(ctx context.Context) error {
	if err := m.db.CleanupExpiredOIDCStates(ctx); err != nil {
		return fmt.Errorf("failed to clean up states: %w", err)
	}
	if err := m.db.CleanupExpiredSessions(ctx); err != nil {
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return nil
}

// Run calls Cleanup every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Cleanup(ctx); err != nil {
				m.logger.Error("session cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// refresh returns a fresh token for session id. Concurrent callers share
// one call, and the stored row is checked first so a refresh that finished
// just before is reused rather than replayed.
func (m *Manager) refresh(ctx context.Context, id string, current *oauth2.Token) (*oauth2.Token, error) {
	v, err, _ := m.refreshes.Do(id, func() (any, error) {
		tok := current
		record, err := m.db.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
		if record != nil {
			tok = recordToken(*record)
			if tok.Valid() {
				return tok, nil
			}
		}
		if tok.RefreshToken == "" {
			return nil, ErrTokenExpired
		}

		fresh, err := m.provider.TokenSource(ctx, tok).Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		if err := m.db.UpdateSessionToken(ctx, id, fresh.AccessToken, fresh.RefreshToken, fresh.Type(), fresh.Expiry); err != nil {
			// The refreshed token still works for this request.
			m.logger.Warn("failed to persist refreshed token", "session", id, "error", err)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (m *Manager) newSession(record db.Session) *Session {
	return &Session{
		ID: record.ID,
		Identity: Identity{
			Subject: record.Subject,
			Email:   record.Email,
			Name:    record.Name,
		},
		ExpiresAt: record.ExpiresAt,
		manager:   m,
		token:     recordToken(record),
	}
}

func recordToken(record db.Session) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    record.TokenType,
		Expiry:       record.TokenExpiry,
	}
}

// Session is an authenticated user session. It satisfies todos.Session.
type Session struct {
	ID        string
	Identity  Identity
	ExpiresAt time.Time

	manager *Manager
	mu      sync.Mutex
	token   *oauth2.Token
}

// AccessToken returns a valid access token, refreshing it through the
// provider when it has expired. Rotated tokens are written back to the
// session store. Concurrent refreshes of one session ID share a single
// grant. Without a refresh token an expired access token yields
// ErrTokenExpired.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Valid() {
		return s.token.AccessToken, nil
	}

	tok, err := s.manager.refresh(ctx, s.ID, s.token)
	if err != nil {
		return "", err
	}
	s.token = tok
	return tok.AccessToken, nil
}

// SanitizeRedirect keeps redirect only if it is a path on this host.
func SanitizeRedirect(redirect string) string {
	if redirect == "" || !strings.HasPrefix(redirect, "/") ||
		strings.HasPrefix(redirect, "//") || strings.HasPrefix(redirect, "/\\") {
		return "/"
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return redirect
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
