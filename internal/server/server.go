// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"ripple/internal/config"
	"ripple/internal/docstore"
	"ripple/internal/engagement"
	"ripple/internal/localstore"
	"ripple/internal/middleware"
	"ripple/internal/models"
	"ripple/internal/notifications"
	"ripple/internal/observability"
	"ripple/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          docstore.Store
	local          *localstore.Store
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	baseCtx        context.Context
	baseCancel     context.CancelFunc

	mutator       *engagement.Mutator
	queue         *engagement.OpQueue
	limiter       *engagement.Limiter
	mux           *engagement.Multiplexer
	engagementSvc *service.EngagementService

	notifier *notifications.Notifier
	hub      *notifications.Hub
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	store, err := docstore.NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("firestore connection failed: %w", err)
	}

	local, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		return nil, fmt.Errorf("local store open failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}

	return NewServerWithDeps(cfg, store, local, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes the stores.
func NewServerWithDeps(cfg *config.Config, store docstore.Store, local *localstore.Store, redisClient *redis.Client) (*Server, error) {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	server := &Server{
		config:         cfg,
		store:          store,
		local:          local,
		redis:          redisClient,
		promMiddleware: fiberprometheus.New("ripple-api"),
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
	}

	server.mutator = engagement.NewMutator(store, local)
	server.queue = engagement.NewOpQueue(server.mutator, local, engagement.QueueConfig{
		BackoffBase: time.Duration(cfg.QueueBackoffMS) * time.Millisecond,
		MaxRetries:  cfg.QueueMaxRetries,
	})
	server.limiter = engagement.NewLimiter(redisClient, policiesFromConfig(cfg))

	var mirror service.LikeMirror
	if local != nil {
		mirror = local
	}
	server.engagementSvc = service.NewEngagementService(server.mutator, server.queue, server.limiter, mirror)

	server.mux = engagement.NewMultiplexer(store, time.Duration(cfg.DebounceMS)*time.Millisecond, server.deliverUpdate)

	server.hub = notifications.NewHub(redisClient)
	server.hub.SetViewerCallbacks(server.onTargetActive, server.onTargetIdle)
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}

	return server, nil
}

func policiesFromConfig(cfg *config.Config) map[models.ActionType]engagement.Policy {
	policies := make(map[models.ActionType]engagement.Policy, len(engagement.DefaultPolicies))
	for action, policy := range engagement.DefaultPolicies {
		policies[action] = policy
	}
	if cfg.LikeLimit > 0 {
		policies[models.ActionLike] = engagement.Policy{MaxActions: cfg.LikeLimit, Window: policies[models.ActionLike].Window}
	}
	if cfg.ShareLimit > 0 {
		policies[models.ActionShare] = engagement.Policy{MaxActions: cfg.ShareLimit, Window: policies[models.ActionShare].Window}
	}
	if cfg.SaveLimit > 0 {
		policies[models.ActionSave] = engagement.Policy{MaxActions: cfg.SaveLimit, Window: policies[models.ActionSave].Window}
	}
	if cfg.ReportLimit > 0 {
		policies[models.ActionReport] = engagement.Policy{MaxActions: cfg.ReportLimit, Window: policies[models.ActionReport].Window}
	}
	return policies
}

// deliverUpdate fans a debounced engagement update out to subscribers. With
// Redis present it goes through pub/sub so every process delivers; without
// it, straight to the local hub.
func (s *Server) deliverUpdate(update models.EngagementUpdate) {
	if s.notifier != nil {
		if err := s.notifier.PublishUpdate(s.baseCtx, update); err != nil {
			log.Printf("publish engagement update for %s: %v", update.Target.Key(), err)
		}
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("marshal engagement update for %s: %v", update.Target.Key(), err)
		return
	}
	s.hub.BroadcastTarget(update.Target.Key(), string(payload))
}

// onTargetActive opens the single upstream watch when a target gains its
// first viewer.
func (s *Server) onTargetActive(targetKey string) {
	target, err := models.ParseTargetKey(targetKey)
	if err != nil {
		log.Printf("ignoring watch request: %v", err)
		return
	}
	if err := s.mux.Subscribe(s.baseCtx, target); err != nil {
		log.Printf("subscribe %s: %v", targetKey, err)
	}
}

// onTargetIdle releases the watch when the last viewer leaves.
func (s *Server) onTargetIdle(targetKey string) {
	target, err := models.ParseTargetKey(targetKey)
	if err != nil {
		return
	}
	s.mux.Unsubscribe(target)
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Security headers
	app.Use(helmet.New())

	// Distributed tracing
	app.Use(middleware.TracingMiddleware())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Ripple Metrics Dashboard",
	}))

	// Public engagement reads
	targets := api.Group("/targets")
	targets.Get("/:type/:id", s.GetEngagement)

	// Protected routes
	protected := api.Group("", s.AuthRequired())

	// WebSocket ticket issuance. Tickets are cheap to mint, so a coarse
	// per-caller ceiling is enough to stop churn. Redemption needs Redis
	// anyway, so failing closed here loses nothing.
	api.Post("/ws/ticket",
		middleware.RateLimitWithPolicy(s.redis, "ws_ticket", 30, time.Minute, middleware.FailClosed),
		s.AuthRequired(), s.IssueWSTicket)

	protectedTargets := protected.Group("/targets")
	protectedTargets.Post("/:type/:id/like", s.ToggleLike)
	protectedTargets.Post("/:type/:id/actions/:action", s.RecordAction)

	limits := protected.Group("/limits")
	limits.Get("/:action", s.GetLimitInfo)

	queue := protected.Group("/queue")
	queue.Get("/", s.GetQueueStatus)
	queue.Post("/drain", s.DrainQueue)

	// Websocket endpoint - protected by AuthRequired
	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/", s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.store.RunTransaction(ctx, models.TargetRef{ContentID: "_health", ContentType: models.ContentTypePost}, func(tx docstore.Tx) error {
		_, err := tx.Get()
		return err
	}); err != nil {
		storeStatus = "unhealthy"
	}

	localStatus := "healthy"
	if s.local == nil {
		localStatus = "unavailable"
	} else if _, err := s.local.LoadQueue(ctx); err != nil {
		localStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus == "unhealthy" || redisStatus == "unhealthy" || localStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"store":       storeStatus,
			"local_store": localStatus,
			"redis":       redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		isWSPath := strings.HasPrefix(path, "/api/ws")

		// 1. Try WebSocket ticket first (short-lived, single-use)
		ticket := c.Query("ticket")
		if ticket != "" && s.redis != nil {
			key := fmt.Sprintf("ws_ticket:%s", ticket)
			userID, err := s.redis.Get(c.Context(), key).Result()
			if err == nil && userID != "" {
				// Delete ticket immediately (single-use)
				s.redis.Del(c.Context(), key)

				c.Locals("userID", userID)
				ctx := context.WithValue(c.UserContext(), observability.UserIDKey, userID)
				c.SetUserContext(ctx)
				return c.Next()
			}
			// If ticket was provided but invalid/expired, we fail if it's a WS path
			if isWSPath {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
		}

		// 2. Fall back to JWT (Bearer token or query param)
		authHeader := c.Get("Authorization")
		tokenString := ""
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// Reject token in query param for WS routes (must use ticket)
		if tokenString == "" && !isWSPath {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		// Parse and validate token
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			// Validate signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		// Extract claims
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token claims"))
		}

		// Validate issuer and audience
		if issuer, issuerOk := claims["iss"].(string); !issuerOk || issuer != "ripple-api" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token issuer"))
		}
		if audience, audienceOk := claims["aud"].(string); !audienceOk || audience != "ripple-client" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token audience"))
		}

		// Extract user ID from subject claim
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid subject claim"))
		}

		// Check JTI for revocation
		if jti, exists := claims["jti"].(string); exists && jti != "" {
			if s.redis != nil {
				isBlacklisted, err := s.redis.Exists(c.Context(), "blacklist:"+jti).Result()
				if err == nil && isBlacklisted > 0 {
					return models.RespondWithError(c, fiber.StatusUnauthorized,
						models.NewUnauthorizedError("Token has been revoked"))
				}
			}
		}

		// Store user ID in context
		c.Locals("userID", sub)
		if name, nameOk := claims["name"].(string); nameOk {
			c.Locals("displayName", name)
		}
		if photo, photoOk := claims["picture"].(string); photoOk {
			c.Locals("photoURL", photo)
		}
		// Sync to UserContext for logging and downstream services
		ctx := context.WithValue(c.UserContext(), observability.UserIDKey, sub)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// Start starts the server
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Ripple Engagement API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Custom error handler
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	// Resume delivery of intents persisted by a previous lifetime.
	if err := s.queue.Restore(s.baseCtx); err != nil {
		log.Printf("queue restore failed: %v", err)
	}

	// Wire the hub to the Redis subscriber if available
	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.baseCtx, s.notifier); err != nil {
				log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
			}
		}()
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop wiring goroutines and watches
	if s.baseCancel != nil {
		s.baseCancel()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections gracefully
	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	// Tear down document watches and retry timers
	s.mux.Shutdown()
	s.queue.Close()

	if s.local != nil {
		if err := s.local.Close(); err != nil {
			log.Printf("error closing local store: %v", err)
		}
	}

	if err := s.store.Close(); err != nil {
		log.Printf("error closing document store: %v", err)
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
