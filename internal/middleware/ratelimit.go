package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/models"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds remaining in the current window when denied
}

// FixedWindowLimiter counts requests per client identifier in fixed windows.
// The counter lives in Redis so the limit holds across concurrently running
// instances; when Redis is unreachable the limiter falls back to a local
// in-process counter and, if that is all that's left, fails open. Both
// degradations are logged.
type FixedWindowLimiter struct {
	rdb    *redis.Client // nil when Redis is not configured
	limit  int
	window time.Duration
	now    func() time.Time
	logger *logrus.Entry

	mu      sync.Mutex
	local   map[string]*localWindow
	cleanup time.Duration
}

type localWindow struct {
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a limiter. rdb may be nil, in which case only
// the per-instance counter applies.
func NewFixedWindowLimiter(rdb *redis.Client, limit int, window time.Duration, logger *logrus.Logger, now func() time.Time) *FixedWindowLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &FixedWindowLimiter{
		rdb:     rdb,
		limit:   limit,
		window:  window,
		now:     now,
		logger:  logger.WithField("component", "middleware.ratelimit"),
		local:   make(map[string]*localWindow),
		cleanup: 5 * time.Minute,
	}
	go rl.cleanupLoop()
	return rl
}

// cleanupLoop removes expired local windows
func (rl *FixedWindowLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, w := range rl.local {
			if now.Sub(w.windowStart) > rl.window {
				delete(rl.local, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow checks whether a request from the given client identifier is allowed
// in the current window.
func (rl *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if rl.rdb != nil {
		d, err := rl.allowRedis(ctx, key)
		if err == nil {
			return d
		}
		// Counter store unavailable: let traffic through rather than block
		// legitimate deliveries, but make the degradation visible.
		rl.logger.WithError(err).WithField("degraded", true).
			Warn("rate-limit counter store unavailable, falling back to local counter")
	}
	return rl.allowLocal(key)
}

// allowRedis implements the shared fixed-window counter: one atomically
// incremented key per client per window, expiring with the window.
func (rl *FixedWindowLimiter) allowRedis(ctx context.Context, key string) (Decision, error) {
	now := rl.now()
	windowSecs := int64(rl.window / time.Second)
	bucket := now.Unix() / windowSecs
	redisKey := fmt.Sprintf("ratelimit:webhook:%s:%d", key, bucket)

	count, err := rl.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		// First hit in this window sets the TTL; a failed EXPIRE only means
		// the key lingers until the next window's key takes over.
		if err := rl.rdb.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.logger.WithError(err).Warn("failed to set TTL on rate-limit key")
		}
	}

	if count > int64(rl.limit) {
		remaining := (bucket+1)*windowSecs - now.Unix()
		if remaining < 1 {
			remaining = 1
		}
		return Decision{Allowed: false, RetryAfter: int(remaining)}, nil
	}
	return Decision{Allowed: true}, nil
}

// allowLocal is the per-instance fallback counter.
func (rl *FixedWindowLimiter) allowLocal(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.local[key]
	if !exists || now.Sub(w.windowStart) >= rl.window {
		rl.local[key] = &localWindow{count: 1, windowStart: now}
		return Decision{Allowed: true}
	}

	w.count++
	if w.count > rl.limit {
		remaining := int((rl.window - now.Sub(w.windowStart)) / time.Second)
		if remaining < 1 {
			remaining = 1
		}
		return Decision{Allowed: false, RetryAfter: remaining}
	}
	return Decision{Allowed: true}
}

// RateLimitMiddleware enforces the per-client-IP request limit on the webhook
// surface. Denied requests get a Retry-After so the gateway's own backoff
// re-delivers later.
func RateLimitMiddleware(limiter *FixedWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Allow(c.Request.Context(), c.ClientIP())
		if !d.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:      "Rate limit exceeded",
				Code:       models.CodeRateLimitExceeded,
				Message:    "Too many requests, please try again later",
				RetryAfter: d.RetryAfter,
			})
			return
		}
		c.Next()
	}
}
