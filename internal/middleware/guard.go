package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rjsadow/dolist/internal/identity"
)

// SessionCookie names the cookie carrying the server-side session ID.
const SessionCookie = "dolist_session"

// SessionContextKey is the key used to store the identity session in the request context
const SessionContextKey contextKey = "session"

// SessionStore is the part of identity.Manager the guard needs.
type SessionStore interface {
	Begin(ctx context.Context, redirect string) (string, error)
	Lookup(ctx context.Context, id string) (*identity.Session, error)
}

// GuardConfig controls how RequireSession treats unauthenticated requests.
type GuardConfig struct {
	// APIPrefix marks JSON routes. They get 401 instead of a login redirect.
	APIPrefix string
	// CookieSecure sets the Secure flag when the stale cookie is cleared.
	CookieSecure bool
}

// RequireSession lets a request through only when it carries a live session
// cookie. Page navigations without one are redirected to the identity
// provider's hosted login; the originally requested path is restored after
// the callback. Requests under APIPrefix get a 401 JSON body.
func RequireSession(store SessionStore, cfg GuardConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err == nil && cookie.Value != "" {
				sess, err := store.Lookup(r.Context(), cookie.Value)
				if err == nil {
					ctx := context.WithValue(r.Context(), SessionContextKey, sess)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				if !errors.Is(err, identity.ErrNoSession) {
					slog.Error("session lookup failed", "error", err, "request_id", GetRequestID(r.Context()))
					if isAPIRequest(r, cfg.APIPrefix) {
						writeJSONError(w, http.StatusInternalServerError, "session lookup failed")
					} else {
						http.Error(w, "Internal server error", http.StatusInternalServerError)
					}
					return
				}
				ClearSessionCookie(w, cfg.CookieSecure)
			}

			Unauthenticated(w, r, store, cfg)
		})
	}
}

// Unauthenticated answers a request that needs a (new) login. Handlers call
// it too when the session's token can no longer be refreshed.
func Unauthenticated(w http.ResponseWriter, r *http.Request, store SessionStore, cfg GuardConfig) {
	if isAPIRequest(r, cfg.APIPrefix) {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Only a GET can be replayed after the login round trip.
	redirect := "/"
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		redirect = r.URL.RequestURI()
	}

	loginURL, err := store.Begin(r.Context(), redirect)
	if err != nil {
		slog.Error("failed to start login", "error", err, "request_id", GetRequestID(r.Context()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) *identity.Session {
	sess, ok := ctx.Value(SessionContextKey).(*identity.Session)
	if !ok {
		return nil
	}
	return sess
}

// SetSessionCookie issues the session cookie.
func SetSessionCookie(w http.ResponseWriter, sess *identity.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func isAPIRequest(r *http.Request, prefix string) bool {
	return prefix != "" && strings.HasPrefix(r.URL.Path, prefix)
}
