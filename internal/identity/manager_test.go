package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rjsadow/dolist/internal/db"
	"github.com/rjsadow/dolist/internal/db/dbtest"
)

func newTestManager(t *testing.T) (*Manager, *db.DB) {
	t.Helper()
	p, _ := newLocalTestProvider(t)
	database := dbtest.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(database, p, time.Hour, logger), database
}

// login runs Begin, the hosted login and Complete.
func login(t *testing.T, m *Manager, redirect string) (*Session, string) {
	t.Helper()
	ctx := context.Background()

	loginURL, err := m.Begin(ctx, redirect)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	q := authorize(t, loginURL)

	sess, target, err := m.Complete(ctx, q.Get("code"), q.Get("state"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return sess, target
}

func TestManager_BeginStoresState(t *testing.T) {
	m, database := newTestManager(t)

	loginURL, err := m.Begin(context.Background(), "/todos")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("bad login URL: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("expected state in login URL")
	}

	redirect, expiresAt, err := database.ConsumeOIDCState(context.Background(), state)
	if err != nil {
		t.Fatalf("state not stored: %v", err)
	}
	if redirect != "/todos" {
		t.Errorf("expected redirect '/todos', got %q", redirect)
	}
	if time.Until(expiresAt) <= 0 || time.Until(expiresAt) > DefaultStateTTL {
		t.Errorf("unexpected state expiry %v", expiresAt)
	}
}

func TestManager_LoginRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	sess, target := login(t, m, "/todos?filter=open")
	if target != "/todos?filter=open" {
		t.Errorf("expected original path, got %q", target)
	}
	if sess.ID == "" {
		t.Fatal("expected session ID")
	}
	if sess.Identity.Subject != "alice" {
		t.Errorf("expected subject 'alice', got %q", sess.Identity.Subject)
	}

	got, err := m.Lookup(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Identity.Email != "alice@localhost" {
		t.Errorf("unexpected email %q", got.Identity.Email)
	}

	tok, err := got.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok == "" {
		t.Error("expected access token")
	}
}

func TestManager_CompleteStateIsSingleUse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	loginURL, err := m.Begin(ctx, "/")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	q := authorize(t, loginURL)

	if _, _, err := m.Complete(ctx, q.Get("code"), q.Get("state")); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if _, _, err := m.Complete(ctx, q.Get("code"), q.Get("state")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on replay, got %v", err)
	}
}

func TestManager_CompleteUnknownState(t *testing.T) {
	m, _ := newTestManager(t)

	for _, state := range []string{"", "never-issued"} {
		if _, _, err := m.Complete(context.Background(), "code", state); !errors.Is(err, ErrInvalidState) {
			t.Errorf("state %q: expected ErrInvalidState, got %v", state, err)
		}
	}
}

func TestManager_CompleteExpiredState(t *testing.T) {
	m, database := newTestManager(t)
	ctx := context.Background()

	if err := database.SaveOIDCState(ctx, "old", "/", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveOIDCState: %v", err)
	}
	if _, _, err := m.Complete(ctx, "code", "old"); !errors.Is(err, ErrStateExpired) {
		t.Errorf("expected ErrStateExpired, got %v", err)
	}
}

func TestManager_CompleteBadCode(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	loginURL, err := m.Begin(ctx, "/")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	state, _ := url.Parse(loginURL)

	if _, _, err := m.Complete(ctx, "forged", state.Query().Get("state")); err == nil {
		t.Fatal("expected exchange failure")
	}
}

func TestManager_LookupMissing(t *testing.T) {
	m, _ := newTestManager(t)

	for _, id := range []string{"", "no-such-session"} {
		if _, err := m.Lookup(context.Background(), id); !errors.Is(err, ErrNoSession) {
			t.Errorf("id %q: expected ErrNoSession, got %v", id, err)
		}
	}
}

func TestManager_Delete(t *testing.T) {
	m, _ := newTestManager(t)
	sess, _ := login(t, m, "/")

	if err := m.Delete(context.Background(), sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Lookup(context.Background(), sess.ID); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after delete, got %v", err)
	}
}

func TestSession_ExpiredWithoutRefresh(t *testing.T) {
	m, database := newTestManager(t)
	ctx := context.Background()

	err := database.CreateSession(ctx, db.Session{
		ID:          "s1",
		Subject:     "alice",
		AccessToken: "stale",
		TokenType:   "Bearer",
		TokenExpiry: time.Now().Add(-time.Minute),
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := m.Lookup(ctx, "s1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := sess.AccessToken(ctx); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSession_RefreshPersistsRotatedToken(t *testing.T) {
	m, database := newTestManager(t)
	ctx := context.Background()

	p := m.Provider().(*LocalProvider)
	refresh, err := p.sign(TokenTypeRefresh, time.Hour, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	err = database.CreateSession(ctx, db.Session{
		ID:           "s2",
		Subject:      "alice",
		AccessToken:  "stale",
		RefreshToken: refresh,
		TokenType:    "Bearer",
		TokenExpiry:  time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := m.Lookup(ctx, "s2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	tok, err := sess.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok == "stale" || tok == "" {
		t.Fatalf("expected refreshed token, got %q", tok)
	}

	stored, err := database.GetSession(ctx, "s2")
	if err != nil || stored == nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.AccessToken != tok {
		t.Error("refreshed access token was not persisted")
	}
	if !stored.TokenExpiry.After(time.Now()) {
		t.Errorf("expected future token expiry, got %v", stored.TokenExpiry)
	}

	// A second call reuses the cached token
	again, err := sess.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if again != tok {
		t.Error("expected cached token on second call")
	}
}

func TestSession_ConcurrentRefreshUsesOneGrant(t *testing.T) {
	var grants atomic.Int32
	var p *LocalProvider
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.FormValue("grant_type") == "refresh_token" {
			grants.Add(1)
			time.Sleep(50 * time.Millisecond)
		}
		p.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	var err error
	p, err = NewLocalProvider(LocalConfig{
		Secret:   []byte(testSecret),
		BaseURL:  srv.URL,
		User:     "alice",
		Audience: testAudience,
	})
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	database := dbtest.NewTestDB(t)
	m := NewManager(database, p, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	refresh, err := p.sign(TokenTypeRefresh, time.Hour, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	err = database.CreateSession(ctx, db.Session{
		ID:           "tabs",
		Subject:      "alice",
		AccessToken:  "stale",
		RefreshToken: refresh,
		TokenType:    "Bearer",
		TokenExpiry:  time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Each request looks the session up on its own.
	sessions := make([]*Session, 2)
	for i := range sessions {
		if sessions[i], err = m.Lookup(ctx, "tabs"); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}

	tokens := make([]string, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = sess.AccessToken(ctx)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("AccessToken %d: %v", i, err)
		}
	}
	if got := grants.Load(); got != 1 {
		t.Errorf("expected 1 refresh grant, got %d", got)
	}
	if tokens[0] != tokens[1] {
		t.Error("expected both requests to share the refreshed token")
	}
}

func TestSession_RefreshRejected(t *testing.T) {
	m, database := newTestManager(t)
	ctx := context.Background()

	err := database.CreateSession(ctx, db.Session{
		ID:           "s3",
		Subject:      "alice",
		AccessToken:  "stale",
		RefreshToken: "revoked",
		TokenType:    "Bearer",
		TokenExpiry:  time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, _ := m.Lookup(ctx, "s3")
	if _, err := sess.AccessToken(ctx); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestManager_Cleanup(t *testing.T) {
	m, database := newTestManager(t)
	ctx := context.Background()

	database.SaveOIDCState(ctx, "gone", "/", time.Now().Add(-time.Minute))
	database.CreateSession(ctx, db.Session{ID: "old", Subject: "a", ExpiresAt: time.Now().Add(-time.Minute)})

	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, _, err := database.ConsumeOIDCState(ctx, "gone"); err == nil {
		t.Error("expected expired state to be removed")
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSanitizeRedirect(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/todos", "/todos"},
		{"/todos?x=1", "/todos?x=1"},
		{"https://evil.example/", "/"},
		{"//evil.example/", "/"},
		{"/\\evil.example", "/"},
		{"todos", "/"},
	}
	for _, tt := range tests {
		if got := SanitizeRedirect(tt.in); got != tt.want {
			t.Errorf("SanitizeRedirect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
