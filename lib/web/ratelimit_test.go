package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remote, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{BurstSize: -1})
	defer rl.Close()

	h := rl.Middleware(okHandler())
	for i := range DefaultRateLimitConfig().BurstSize {
		if w := serveFrom(h, "10.0.0.1:1", "/"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if w := serveFrom(h, "10.0.0.1:1", "/"); w.Code != http.StatusTooManyRequests {
		t.Errorf("request past default burst: status = %d, want 429", w.Code)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2, IdleTimeout: time.Minute})
	defer rl.Close()

	var rejectedIP, rejectedPath string
	rl.SetOnReject(func(ip, path string) {
		rejectedIP, rejectedPath = ip, path
	})
	h := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		if w := serveFrom(h, "192.168.1.1:12345", "/api/pools/db/reap"); w.Code != http.StatusOK {
			t.Errorf("burst request %d: status = %d", i, w.Code)
		}
	}

	w := serveFrom(h, "192.168.1.1:12345", "/api/pools/db/reap")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("over-limit request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rejectedIP != "192.168.1.1" || rejectedPath != "/api/pools/db/reap" {
		t.Errorf("onReject got (%q, %q)", rejectedIP, rejectedPath)
	}

	if w := serveFrom(h, "192.168.1.2:12345", "/"); w.Code != http.StatusOK {
		t.Errorf("other client should have its own bucket, status = %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", false, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", "", "", false, "192.168.1.1"},
		{"ipv6", "[::1]:12345", "", "", false, "::1"},
		{"untrusted xff ignored", "127.0.0.1:80", "203.0.113.195", "", false, "127.0.0.1"},
		{"trusted xff", "127.0.0.1:80", "203.0.113.195", "", true, "203.0.113.195"},
		{"trusted xff list", "127.0.0.1:80", " 203.0.113.195 , 70.41.3.18", "", true, "203.0.113.195"},
		{"trusted x-real-ip", "127.0.0.1:80", "", "10.0.0.2", true, "10.0.0.2"},
		{"xff before x-real-ip", "127.0.0.1:80", "10.0.0.1", "10.0.0.2", true, "10.0.0.1"},
		{"invalid xff falls back", "192.168.1.1:80", "not-an-ip", "", true, "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
