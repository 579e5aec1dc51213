package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 2)

	if rl.GetLimiter("10.0.0.1") != rl.GetLimiter("10.0.0.1") {
		t.Error("Expected the same limiter for the same IP")
	}
	if rl.GetLimiter("10.0.0.1") == rl.GetLimiter("10.0.0.2") {
		t.Error("Expected separate limiters per IP")
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	// 2 tokens at 1/s refill in 2s
	rl := NewRateLimiter(rate.Limit(1), 2)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	first := rl.GetLimiter("10.0.0.1")
	rl.GetLimiter("10.0.0.2")
	if rl.Len() != 2 {
		t.Fatalf("Expected 2 tracked clients, got %d", rl.Len())
	}

	// 10.0.0.2 stays active, 10.0.0.1 goes idle
	now = now.Add(1500 * time.Millisecond)
	rl.GetLimiter("10.0.0.2")
	now = now.Add(1500 * time.Millisecond)
	rl.GetLimiter("10.0.0.3")

	if rl.Len() != 2 {
		t.Errorf("Expected idle client to be evicted, got %d tracked", rl.Len())
	}
	if rl.GetLimiter("10.0.0.1") == first {
		t.Error("Expected a fresh limiter for an evicted client")
	}
}

func TestRateLimiter_KeepsActiveClients(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 2)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	limiter := rl.GetLimiter("10.0.0.1")
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		if rl.GetLimiter("10.0.0.1") != limiter {
			t.Fatalf("Step %d: expected the active client to keep its limiter", i)
		}
	}
}

func TestWebhookRateLimit(t *testing.T) {
	server, _, logs := setupTestServer(t, testSecret)
	server.WebhookRateLimit = 2
	router := server.Router()

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := signedWebhook(validBody)
		req.RemoteAddr = remoteAddr
		return serve(router, req)
	}

	// Burst equals the per-minute limit; the source port must not matter
	for i, addr := range []string{"192.0.2.1:1000", "192.0.2.1:1001"} {
		if rr := send(addr); rr.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	rr := send("192.0.2.1:1002")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected request id on rate limited response")
	}
	if got := decode[map[string]string](t, rr); got["detail"] != "rate limit exceeded" {
		t.Errorf("Unexpected body: %v", got)
	}

	// Another client is unaffected
	if rr := send("192.0.2.2:1000"); rr.Code != http.StatusOK {
		t.Errorf("Expected other client to get 200, got %d", rr.Code)
	}

	// Rate limiting applies to the webhook only
	req := httptest.NewRequest("GET", "/health/live", nil)
	req.RemoteAddr = "192.0.2.1:1003"
	if rr := serve(router, req); rr.Code != http.StatusOK {
		t.Errorf("Expected liveness to bypass the limiter, got %d", rr.Code)
	}

	lines := logs.accessLog(t)
	limited := lines[2]
	if limited["status"] != float64(429) || limited["level"] != "WARNING" {
		t.Errorf("Unexpected log line for limited request: %v", limited)
	}
	if v, ok := limited["result"]; !ok || v != nil {
		t.Errorf("Expected null result for limited request, got %v", v)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}

	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
