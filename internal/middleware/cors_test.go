package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	var reached bool
	handler := CORS("http://localhost:8080/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("preflight answered without next", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodOptions, "/todos", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if reached {
			t.Error("preflight must not reach the handler")
		}
		h := rec.Header()
		if h.Get("Access-Control-Allow-Origin") != "http://localhost:8080" {
			t.Errorf("unexpected allow-origin %q", h.Get("Access-Control-Allow-Origin"))
		}
		if h.Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("expected credentials allowed")
		}
		if h.Get("Access-Control-Allow-Methods") != corsMethods {
			t.Errorf("unexpected methods %q", h.Get("Access-Control-Allow-Methods"))
		}
		if h.Get("Access-Control-Allow-Headers") != "authorization, content-type" {
			t.Errorf("unexpected allow-headers %q", h.Get("Access-Control-Allow-Headers"))
		}
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if !reached {
			t.Error("expected handler to run")
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:8080" {
			t.Error("expected allow-origin header")
		}
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unexpected allow-origin for foreign origin")
		}
	})
}

func TestCORS_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := CORS("")(next)

	req := httptest.NewRequest(http.MethodOptions, "/todos", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected passthrough, got %d", rec.Code)
	}
}
