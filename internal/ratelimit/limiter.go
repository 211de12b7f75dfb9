// Package ratelimit adapts fluxforge/control_plane/scheduler/limiter.go's
// keyed token-bucket limiter into a generic per-key admission guard, shared
// by the Provider Adapter's per-provider/model rate limiter and the Wakeup
// Controller's per-project spawn-rate guard (DOMAIN STACK: golang.org/x/time/rate).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter lazily creates one rate.Limiter per key, all sharing
// the same rate and burst.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// New builds a limiter allowing perSecond events per key, with burst as the
// initial token allowance.
func New(perSecond float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		b:        burst,
	}
}

func (l *TokenBucketLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether key may proceed now, consuming a token if so.
func (l *TokenBucketLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}
