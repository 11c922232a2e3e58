package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rjsadow/dolist/internal/identity"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// IdentityContextKey is the key used to store the verified caller in the request context
	IdentityContextKey contextKey = "identity"
)

// Authenticate creates middleware that validates bearer access tokens from
// the Authorization header.
func Authenticate(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				writeJSONError(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			ident, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("bearer token rejected", "error", err, "request_id", GetRequestID(r.Context()))
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	// Expect "Bearer <token>" format
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// IdentityFromContext retrieves the verified caller from the request context
func IdentityFromContext(ctx context.Context) *identity.Identity {
	ident, ok := ctx.Value(IdentityContextKey).(*identity.Identity)
	if !ok {
		return nil
	}
	return ident
}
