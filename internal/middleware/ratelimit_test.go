package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("expected third request to be limited")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("limits must be per IP")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.idle = time.Millisecond
	rl.Allow("1.2.3.4")

	time.Sleep(5 * time.Millisecond)
	rl.sweep()

	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("expected idle visitor to be dropped, have %d", n)
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	handler := RateLimit(NewRateLimiter(1, 1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseProxies([]string{"10.0.0.0/8", "::1"})
	if err != nil {
		t.Fatalf("ParseProxies: %v", err)
	}

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.168.1.1:1234", "192.168.1.1"},
		{"ipv6 remote addr", nil, "[::1]:1234", "::1"},
		{"no port", nil, "192.168.1.1", "192.168.1.1"},
		{"forwarded from untrusted peer", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "192.168.1.1:1", "192.168.1.1"},
		{"real ip from untrusted peer", map[string]string{"X-Real-Ip": "203.0.113.9"}, "192.168.1.1:1", "192.168.1.1"},
		{"forwarded via trusted proxy", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:1", "203.0.113.5"},
		{"spoofed left-most entry", map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.5, 10.0.0.2"}, "10.0.0.1:1", "203.0.113.5"},
		{"real ip via trusted proxy", map[string]string{"X-Real-Ip": "203.0.113.9"}, "10.0.0.1:1", "203.0.113.9"},
		{"trusted proxy without headers", nil, "10.0.0.1:1", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, trusted); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	handler := RateLimit(NewRateLimiter(1, 1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for _, xff := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.RemoteAddr = "192.0.2.7:4000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected 200 then 429 despite a changing X-Forwarded-For, got %v", codes)
	}
}

func TestRateLimiter_TrustProxies(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if err := rl.TrustProxies([]string{"10.0.0.0/8"}); err != nil {
		t.Fatalf("TrustProxies: %v", err)
	}
	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/todos", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("client %s behind trusted proxy: expected 200, got %d", client, rec.Code)
		}
	}

	if err := rl.TrustProxies([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for invalid proxy")
	}
}
