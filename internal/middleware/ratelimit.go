package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/pkg/response"
)

// SubmitLimiter enforces at most one successful job submission per source IP
// per window. Only successes consume quota, so the check happens up front and
// the handler records the hit after admission goes through.
//
// With a Redis client the window state is shared across instances; without
// one a local map serves single-instance deployments.
type SubmitLimiter struct {
	redis  *redis.Client
	window time.Duration
	log    *zap.Logger

	mu    sync.Mutex
	local map[string]time.Time
}

func NewSubmitLimiter(redisClient *redis.Client, window time.Duration, log *zap.Logger) *SubmitLimiter {
	return &SubmitLimiter{
		redis:  redisClient,
		window: window,
		log:    log,
		local:  make(map[string]time.Time),
	}
}

// Limit rejects requests from IPs that already submitted inside the window.
func (rl *SubmitLimiter) Limit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, err := rl.allow(c.Context(), c.IP())
		if err != nil {
			// Rate limiting is best-effort; an unreachable backend does not
			// block submissions.
			rl.log.Warn("rate limit check failed", zap.Error(err))
			return c.Next()
		}
		if !allowed {
			c.Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			return response.RateLimited(c)
		}
		return c.Next()
	}
}

// Record consumes the IP's quota for the current window. Called by the
// handler after a successful admission.
func (rl *SubmitLimiter) Record(ctx context.Context, ip string) {
	if rl.redis != nil {
		if err := rl.redis.Set(ctx, rl.key(ip), "1", rl.window).Err(); err != nil {
			rl.log.Warn("rate limit record failed", zap.Error(err))
		}
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	rl.local[ip] = now
	// Drop expired entries while we hold the lock.
	for k, t := range rl.local {
		if now.Sub(t) >= rl.window {
			delete(rl.local, k)
		}
	}
}

func (rl *SubmitLimiter) allow(ctx context.Context, ip string) (bool, error) {
	if rl.redis != nil {
		n, err := rl.redis.Exists(ctx, rl.key(ip)).Result()
		if err != nil {
			return true, err
		}
		return n == 0, nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	last, ok := rl.local[ip]
	if !ok {
		return true, nil
	}
	return time.Since(last) >= rl.window, nil
}

func (rl *SubmitLimiter) key(ip string) string {
	return "ratelimit:submit:" + ip
}
