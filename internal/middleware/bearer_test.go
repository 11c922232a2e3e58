package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rjsadow/dolist/internal/identity"
)

// mockVerifier accepts exactly one token.
type mockVerifier struct {
	valid string
}

func (m *mockVerifier) Verify(_ context.Context, raw string) (*identity.Identity, error) {
	if raw == m.valid {
		return &identity.Identity{Subject: "user-1", Email: "user@example.com"}, nil
	}
	return nil, identity.ErrInvalidToken
}

func TestAuthenticate(t *testing.T) {
	var got *identity.Identity
	handler := Authenticate(&mockVerifier{valid: "valid-token"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer valid-token", http.StatusOK},
		{"lowercase scheme", "bearer valid-token", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/todos", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if got == nil || got.Subject != "user-1" {
					t.Errorf("expected identity in context, got %+v", got)
				}
				return
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("expected JSON error body: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestIdentityFromContext_Missing(t *testing.T) {
	if IdentityFromContext(context.Background()) != nil {
		t.Error("expected nil identity")
	}
}
