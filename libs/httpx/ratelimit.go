package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateResult reports a single rate-limit decision.
type RateResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window limiter held in process memory. Suitable for
// single-instance deployments and tests; use RedisRateLimiter when several
// instances serve the same routes.
type RateLimiter struct {
	limit    int
	window   time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		visitors: map[string]*visitor{},
		now:      time.Now,
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := rl.Allow(clientKey(r))
			if !res.Allowed {
				w.Header().Set("Retry-After", formatRetryAfter(res.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow records an attempt for key. With limit N and window W, the first N
// attempts inside a window are allowed and the (N+1)-th is not; the window
// resets W after the first recorded attempt.
func (rl *RateLimiter) Allow(key string) RateResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[key]
	if v == nil || !now.Before(v.resetTime) {
		rl.visitors[key] = &visitor{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return RateResult{Allowed: true, Remaining: rl.limit - 1}
	}

	if v.count >= rl.limit {
		return RateResult{Allowed: false, Remaining: 0, RetryAfter: v.resetTime.Sub(now)}
	}
	v.count++
	return RateResult{Allowed: true, Remaining: rl.limit - v.count}
}

func formatRetryAfter(d time.Duration) string {
	secs := int(d / time.Second)
	if d%time.Second != 0 || secs < 1 {
		secs++
	}
	return strconv.Itoa(secs)
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
