package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/quickpoll/backend/internal/logging"
)

const (
	// visitorIdleTTL is how long an IP may stay quiet before its bucket is dropped.
	visitorIdleTTL = 3 * time.Minute
	sweepInterval  = time.Minute
)

// visitor tracks rate limiting state for a single IP address.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-IP rate limiting using a token bucket algorithm.
// Idle visitors are swept on access, so there is nothing to stop.
type RateLimiter struct {
	clock     clockwork.Clock
	visitors  map[string]*visitor
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	nextSweep time.Time
}

// NewRateLimiter creates a rate limiter with the specified requests per minute.
// Values below one are raised to one. A nil clock uses the real clock.
func NewRateLimiter(requestsPerMinute int, clock clockwork.Clock) *RateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:     clock,
		visitors:  make(map[string]*visitor),
		rate:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     requestsPerMinute,
		nextSweep: clock.Now().Add(sweepInterval),
	}
}

// allow spends one token from ip's bucket.
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if !now.Before(rl.nextSweep) {
		rl.sweep(now)
		rl.nextSweep = now.Add(sweepInterval)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep removes visitors that haven't been seen within visitorIdleTTL.
// Caller holds rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(rl.visitors, ip)
		}
	}
}

// Middleware returns the HTTP middleware that enforces rate limiting.
// Returns 429 Too Many Requests when the limit is exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(logging.ExtractClientIP(r)) {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventRateLimited, "rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"detail":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
