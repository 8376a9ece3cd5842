package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type visitor struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window, in-process Limiter.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.window {
		for k, v := range rl.visitors {
			if now.Sub(v.windowStart) > rl.window {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, exists := rl.visitors[key]
	if !exists || now.Sub(v.windowStart) > rl.window {
		v = &visitor{windowStart: now}
		rl.visitors[key] = v
	}

	if v.count >= rl.limit {
		return Decision{RetryAfter: v.windowStart.Add(rl.window).Sub(now)}, nil
	}
	v.count++
	return Decision{Allowed: true, Remaining: rl.limit - v.count}, nil
}

// RateLimit limits requests per authenticated user, or per client IP for
// anonymous requests. Limiter failures let the request through.
func RateLimit(limiter Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), requestKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				retryAfter := int(d.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					fmt.Sprintf("Too many requests. Please retry after %d seconds.", retryAfter), r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if id := GetUserID(r.Context()); id != uuid.Nil {
		return "user:" + id.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
