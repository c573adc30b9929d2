package middleware

import (
	"context"
	"fmt"
	"os"
	"time"

	"ripple/internal/models"
	"ripple/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

func httpLimitKey(resource, id string) string {
	return fmt.Sprintf("rl:http:%s:%s", resource, id)
}

// CheckHTTPLimit reports whether one more request for resource is within its
// ceiling. This is the coarse per-route guard; the per-action engagement
// budgets (like/share/save/report windows) live in the engagement limiter.
// Limiting is disabled when APP_ENV is "test" or "development" so local
// workflows are not throttled.
func CheckHTTPLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	switch env {
	case "test", "development":
		return true, nil
	}

	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	key := httpLimitKey(resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		observability.RedisErrors.WithLabelValues("incr").Inc()
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// RateLimit enforces `limit` requests per `window` for resource, keyed by the
// authenticated user when present, otherwise by remote IP. Defaults to
// FailOpen.
func RateLimit(rdb *redis.Client, resource string, limit int, window time.Duration) fiber.Handler {
	return RateLimitWithPolicy(rdb, resource, limit, window, FailOpen)
}

// RateLimitWithPolicy is RateLimit with an explicit unavailability policy.
// Routes that cannot serve without Redis anyway should fail closed.
func RateLimitWithPolicy(rdb *redis.Client, resource string, limit int, window time.Duration, policy FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := context.Background()

		var id string
		if uid := c.Locals("userID"); uid != nil {
			id = fmt.Sprintf("user:%v", uid)
		} else {
			id = fmt.Sprintf("ip:%s", c.IP())
		}

		allowed, err := CheckHTTPLimit(ctx, rdb, resource, id, limit, window)
		if err != nil {
			observability.GlobalLogger.Warn("rate limit store unavailable",
				"resource", resource,
				"path", c.Path(),
				"fail_closed", policy == FailClosed,
				"error", err.Error(),
			)
			if policy == FailClosed {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if !allowed {
			observability.HTTPRequestsThrottled.WithLabelValues(resource).Inc()
			if ttl, ttlErr := rdb.TTL(ctx, httpLimitKey(resource, id)).Result(); ttlErr == nil && ttl > 0 {
				c.Set("Retry-After", fmt.Sprintf("%d", int((ttl+time.Second-1)/time.Second)))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  models.CodeRateLimited,
			})
		}
		return c.Next()
	}
}
