package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ripple/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// slowRequestThreshold flags requests worth a warning even when they succeed.
// Engagement reads and toggles should finish far under this; a breach usually
// means the document store is degraded.
const slowRequestThreshold = 2 * time.Second

// ContextMiddleware copies request ID, user ID and trace ID from Fiber locals
// into the request context, where the context-aware logger picks them up.
// User ID is only present once auth has run, so requests rejected before auth
// log without it.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, observability.RequestIDKey, rid)
		}
		if uid, ok := c.Locals("userID").(string); ok {
			ctx = context.WithValue(ctx, observability.UserIDKey, uid)
		}
		if tid, ok := c.Locals("traceID").(string); ok {
			ctx = context.WithValue(ctx, observability.TraceIDKey, tid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs each request through the global logger. Probe and
// scrape endpoints are skipped; they fire every few seconds and would drown
// real traffic.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/metrics" || strings.HasPrefix(path, "/health") {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		latency := time.Since(start)
		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", path),
			slog.String("ip", c.IP()),
			slog.Duration("latency", latency),
		}

		switch {
		case err != nil:
			fields = append(fields, slog.String("error", err.Error()))
			observability.GlobalLogger.ErrorContext(c.UserContext(), "request failed", fields...)
		case latency > slowRequestThreshold:
			observability.GlobalLogger.WarnContext(c.UserContext(), "slow request", fields...)
		default:
			observability.GlobalLogger.InfoContext(c.UserContext(), "request processed", fields...)
		}

		return err
	}
}
