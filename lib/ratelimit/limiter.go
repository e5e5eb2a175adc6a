// Package ratelimit provides per-key token bucket rate limiting for the
// HTTP API. Each key (normally a client IP) gets its own bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter provides per-key rate limiting.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration // how long to keep idle limiters
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewKeyed creates a per-key rate limiter allowing perSecond requests per
// second with the given burst. Limiters unused for idle are dropped.
func NewKeyed(perSecond float64, burst int, idle time.Duration) *KeyedLimiter {
	kl := &KeyedLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go kl.cleanupLoop()
	return kl
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.stopOnce.Do(func() {
		close(kl.stopCh)
	})
	<-kl.done
}

// Allow reports whether a request for key may proceed, consuming a token.
func (kl *KeyedLimiter) Allow(key string) bool {
	now := time.Now()

	kl.mu.Lock()
	e, ok := kl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastSeen = now
	kl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiter) cleanupLoop() {
	defer close(kl.done)

	ticker := time.NewTicker(kl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case now := <-ticker.C:
			kl.sweep(now)
		}
	}
}

// sweep drops limiters idle for longer than kl.idle.
func (kl *KeyedLimiter) sweep(now time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for key, e := range kl.limiters {
		if now.Sub(e.lastSeen) > kl.idle {
			delete(kl.limiters, key)
		}
	}
}
