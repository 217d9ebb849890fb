package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles scan submissions with one global bucket and one
// bucket per namespace.
type RateLimiter struct {
	global     *rate.Limiter
	namespaces map[string]*rate.Limiter
	mu         sync.RWMutex

	perSecond float64
	burst     int
}

// NewRateLimiter creates a limiter allowing perSecond submissions per
// namespace, and ten times that overall.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:     rate.NewLimiter(rate.Limit(perSecond*10), burst*10),
		namespaces: make(map[string]*rate.Limiter),
		perSecond:  perSecond,
		burst:      burst,
	}
}

// Allow reports whether namespace may submit now.
func (rl *RateLimiter) Allow(namespace string) bool {
	if !rl.forNamespace(namespace).Allow() {
		return false
	}
	return rl.global.Allow()
}

func (rl *RateLimiter) forNamespace(namespace string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.namespaces[namespace]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, ok := rl.namespaces[namespace]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
	rl.namespaces[namespace] = limiter
	return limiter
}

// Middleware rejects requests over the limit with 429. It must run after
// IdentityMiddleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(namespaceFrom(r.Context())) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many scans, slow down", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
