package web

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/ratelimit"
)

// RateLimitConfig configures per-client rate limiting of mutating endpoints.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per client IP.
	RequestsPerSecond float64
	// BurstSize is the maximum burst per client IP.
	BurstSize int
	// IdleTimeout is how long an unused client limiter is kept.
	IdleTimeout time.Duration
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind
	// a reverse proxy that sets them.
	TrustProxy bool
}

// DefaultRateLimitConfig returns the defaults used by respool serve.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		BurstSize:         10,
		IdleTimeout:       5 * time.Minute,
	}
}

// RateLimiter is HTTP middleware enforcing a per-IP token bucket.
type RateLimiter struct {
	limiter    *ratelimit.KeyedLimiter
	trustProxy bool
	onReject   func(ip, path string)
}

// NewRateLimiter creates a rate limiter. Zero fields take the defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	return &RateLimiter{
		limiter:    ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.BurstSize, cfg.IdleTimeout),
		trustProxy: cfg.TrustProxy,
	}
}

// SetOnReject sets a callback invoked for every rejected request.
func (rl *RateLimiter) SetOnReject(fn func(ip, path string)) {
	rl.onReject = fn
}

// Close stops the limiter's sweeper goroutine.
func (rl *RateLimiter) Close() {
	rl.limiter.Close()
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)

		if !rl.limiter.Allow(ip) {
			metrics.RateLimitRejections.Inc()
			if rl.onReject != nil {
				rl.onReject(ip, r.URL.Path)
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the IP used as the rate limit key.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
