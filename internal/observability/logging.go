// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

type contextKey string

// Context keys the logger lifts into every record. Request middleware plants
// them so deep layers (queue drains, watch callbacks, hub events) log with
// the originating request attached.
const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TraceIDKey   contextKey = "trace_id"
)

type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if rid, ok := ctx.Value(RequestIDKey).(string); ok {
		r.AddAttrs(slog.String("request_id", rid))
	}
	if uid, ok := ctx.Value(UserIDKey).(string); ok {
		r.AddAttrs(slog.String("user_id", uid))
	}
	if tid, ok := ctx.Value(TraceIDKey).(string); ok {
		r.AddAttrs(slog.String("trace_id", tid))
	}
	return h.Handler.Handle(ctx, r)
}

func init() {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if os.Getenv("APP_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// Text output reads better during local development.
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	GlobalLogger = &Logger{Logger: slog.New(&ctxHandler{handler})}
}

// QueueLogger provides structured logging for operation queue events.
type QueueLogger struct {
	logger *Logger
}

// NewQueueLogger creates a new QueueLogger.
func NewQueueLogger() *QueueLogger {
	return &QueueLogger{logger: GlobalLogger}
}

// LogEnqueue logs a newly queued or superseded operation.
func (l *QueueLogger) LogEnqueue(ctx context.Context, targetKey, userID string, superseded bool) {
	l.logger.InfoContext(ctx, "operation queued",
		slog.String("target", targetKey),
		slog.String("user_id", userID),
		slog.Bool("superseded", superseded),
	)
}

// LogRetry logs a rescheduled attempt.
func (l *QueueLogger) LogRetry(ctx context.Context, targetKey, userID string, retryCount int, delaySeconds float64) {
	l.logger.InfoContext(ctx, "operation retry scheduled",
		slog.String("target", targetKey),
		slog.String("user_id", userID),
		slog.Int("retry_count", retryCount),
		slog.Float64("delay_seconds", delaySeconds),
	)
}

// LogDrop logs an operation abandoned after the retry ceiling. This is the
// only record the system keeps of the lost intent.
func (l *QueueLogger) LogDrop(ctx context.Context, targetKey, userID string, retryCount int) {
	l.logger.ErrorContext(ctx, "operation dropped after max retries",
		slog.String("target", targetKey),
		slog.String("user_id", userID),
		slog.Int("retry_count", retryCount),
	)
}

// LogDrained logs a queued operation that reached the store.
func (l *QueueLogger) LogDrained(ctx context.Context, targetKey, userID string) {
	l.logger.InfoContext(ctx, "operation drained",
		slog.String("target", targetKey),
		slog.String("user_id", userID),
	)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	logger  *Logger
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{
		hubName: hubName,
		logger:  GlobalLogger,
	}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID string) {
	l.logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID string, reason string) {
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID string, err error, eventType string) {
	l.logger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "websocket lifecycle", attrs...)
}
