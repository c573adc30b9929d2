// Package bootstrap establishes runtime dependencies for commands: the
// document store, the local fallback store and Redis.
package bootstrap

import (
	"context"
	"fmt"

	"ripple/internal/cache"
	"ripple/internal/config"
	"ripple/internal/docstore"
	"ripple/internal/localstore"
	"ripple/internal/observability"
	"ripple/internal/seed"

	"github.com/redis/go-redis/v9"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo populates the store with generated demo targets. Only honored
	// outside production.
	SeedDemo bool
	// InMemoryStore selects the in-memory document store instead of
	// Firestore. Used by local development and tests.
	InMemoryStore bool
}

// InitRuntime connects the document store, local store and Redis, and
// optionally runs demo seeding.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (docstore.Store, *localstore.Store, *redis.Client, error) {
	var store docstore.Store
	if opts.InMemoryStore {
		store = docstore.NewMemoryStore()
	} else {
		fs, err := docstore.NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.FirestoreDatabase)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("firestore connection failed: %w", err)
		}
		store = fs
	}

	local, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("local store open failed: %w", err)
	}

	// Redis is optional: engagement reads fall back to the store, the limiter
	// to its in-process window, presence tracking to local-only.
	if err := cache.InitRedis(cfg.RedisURL); err != nil {
		observability.GlobalLogger.Warn("redis unavailable, continuing without cache",
			"error", err.Error())
	}
	r := cache.GetClient()

	if opts.SeedDemo && cfg.Env != "production" && cfg.Env != "prod" {
		if err := seed.Targets(ctx, store, seed.Options{}); err != nil {
			local.Close()
			store.Close()
			return nil, nil, nil, fmt.Errorf("failed to seed demo targets: %w", err)
		}
	}

	return store, local, r, nil
}
