package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EngagementKeyPrefix = "engagement:view:%s:%s"
	LimitKeyPrefix      = "limit:view:%s:%s"
)

const (
	// EngagementTTL is deliberately short: counts move fast and the
	// real-time layer is the source of freshness, the cache just absorbs
	// read bursts.
	EngagementTTL = 10 * time.Second
	LimitTTL      = 5 * time.Second
)

// EngagementKey caches one user's view of one target.
func EngagementKey(targetKey, userID string) string {
	return fmt.Sprintf(EngagementKeyPrefix, targetKey, userID)
}

// LimitKey caches one user's rate-limit standing for one action.
func LimitKey(action, userID string) string {
	return fmt.Sprintf(LimitKeyPrefix, action, userID)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateTarget drops every cached view of a target. Views are keyed per
// user, so this scans the prefix.
func InvalidateTarget(ctx context.Context, targetKey string) {
	if client == nil {
		return
	}
	pattern := fmt.Sprintf(EngagementKeyPrefix, targetKey, "*")
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
}

// Aside implements the cache-aside pattern: serve from cache on hit,
// otherwise run fetch (which populates dest) and write the result back with
// the given TTL. A nil client degrades to a plain fetch.
func Aside(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetch func() error) error {
	if client != nil {
		if raw, err := client.Get(ctx, key).Result(); err == nil {
			if jsonErr := json.Unmarshal([]byte(raw), dest); jsonErr == nil {
				return nil
			}
		}
	}

	if err := fetch(); err != nil {
		return err
	}

	if client != nil {
		if data, err := json.Marshal(dest); err == nil {
			client.Set(ctx, key, data, ttl)
		}
	}
	return nil
}
