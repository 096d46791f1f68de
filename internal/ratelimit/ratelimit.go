// Package ratelimit provides a keyed token-bucket limiter. Each key gets an
// independent bucket; here keys are user IDs guarding the upload endpoint.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Keyed manages per-key rate limiting.
type Keyed struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a keyed limiter allowing perMinute events per key with the
// given burst.
func New(perMinute float64, burst int) *Keyed {
	return &Keyed{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

// Allow reports whether an event for the key may proceed now.
func (k *Keyed) Allow(key string) bool {
	return k.getLimiter(key).Allow()
}

// getLimiter returns the limiter for a key, creating one if needed.
func (k *Keyed) getLimiter(key string) *rate.Limiter {
	// Fast path: read lock.
	k.mu.RLock()
	limiter, exists := k.limiters[key]
	k.mu.RUnlock()
	if exists {
		return limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Double-check after acquiring write lock.
	if limiter, exists = k.limiters[key]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(k.limit, k.burst)
	k.limiters[key] = limiter
	return limiter
}
