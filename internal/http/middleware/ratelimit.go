package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// RateLimiter keeps one token bucket per key. Keys are usually client IPs.
type RateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	rate        float64 // tokens per second
	burst       int     // max tokens
	now         func() time.Time
	lastCleanup time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rate requests/sec per key with the given burst.
func NewRateLimiter(r float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether a request for key is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evictIdle(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// retryAfter is the whole number of seconds until one token is available.
func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return 60
	}
	secs := int(1/rl.rate + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// evictIdle drops buckets unused for bucketIdleTTL. Callers hold rl.mu.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.lastCleanup = now
	cutoff := now.Add(-bucketIdleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit rejects requests over the limiter's rate with 429 Too Many Requests.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.retryAfter()))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers X-Real-Ip set by chi's RealIP middleware.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
