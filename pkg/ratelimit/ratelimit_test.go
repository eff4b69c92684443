package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// The bucket starts full with `burst` tokens, each Allow consumes one
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// 10 req/s refills one token every 100ms
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(10, 1)

	if !limiter.Allow("trigger-a") {
		t.Error("First request for trigger-a should be allowed")
	}
	if limiter.Allow("trigger-a") {
		t.Error("Second request for trigger-a should be rate limited")
	}
	if !limiter.Allow("trigger-b") {
		t.Error("trigger-b should have its own bucket")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := limiter.Middleware(func(r *http.Request) string {
		return "test-key"
	})

	wrappedHandler := middleware(handler)

	req1 := httptest.NewRequest("POST", "/webhook/flow/token", nil)
	rr1 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr1, req1)

	if rr1.Code != http.StatusOK {
		t.Errorf("First request should succeed, got status %d", rr1.Code)
	}

	req2 := httptest.NewRequest("POST", "/webhook/flow/token", nil)
	rr2 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusOK {
		t.Errorf("Second request should succeed, got status %d", rr2.Code)
	}

	req3 := httptest.NewRequest("POST", "/webhook/flow/token", nil)
	rr3 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr3, req3)

	if rr3.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got status %d", rr3.Code)
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)

	limiter.Allow("stale-key")
	time.Sleep(50 * time.Millisecond)
	limiter.Allow("fresh-key")

	removed := limiter.CleanupOldLimiters(25 * time.Millisecond)
	if removed != 1 {
		t.Errorf("Expected 1 limiter removed, got %d", removed)
	}

	limiter.mu.Lock()
	_, staleExists := limiter.limiters["stale-key"]
	_, freshExists := limiter.limiters["fresh-key"]
	limiter.mu.Unlock()

	if staleExists {
		t.Error("Stale limiter should have been removed")
	}
	if !freshExists {
		t.Error("Fresh limiter should have been kept")
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		expectedKey   string
	}{
		{
			name:          "Direct connection",
			remoteAddr:    "192.168.1.1:12345",
			xForwardedFor: "",
			expectedKey:   "192.168.1.1:12345",
		},
		{
			name:          "Behind proxy",
			remoteAddr:    "127.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			expectedKey:   "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}

			key := IPKeyFunc(req)
			if key != tt.expectedKey {
				t.Errorf("Expected key %s, got %s", tt.expectedKey, key)
			}
		})
	}
}
