package engagement

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"ripple/internal/models"
	"ripple/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Policy bounds one action category to MaxActions occurrences per sliding
// Window.
type Policy struct {
	MaxActions int
	Window     time.Duration
}

// DefaultPolicies are the per-action limits applied when no override is
// configured.
var DefaultPolicies = map[models.ActionType]Policy{
	models.ActionLike:   {MaxActions: 10, Window: 60 * time.Second},
	models.ActionShare:  {MaxActions: 5, Window: 60 * time.Second},
	models.ActionSave:   {MaxActions: 20, Window: 60 * time.Second},
	models.ActionReport: {MaxActions: 3, Window: 300 * time.Second},
}

// LimitInfo describes the caller's current standing within a window.
type LimitInfo struct {
	Action    models.ActionType `json:"action"`
	Limit     int               `json:"limit"`
	Remaining int               `json:"remaining"`
	// ResetAt is when the oldest in-window action expires. Zero when the
	// window is empty.
	ResetAt time.Time `json:"reset_at,omitempty"`
}

// Limiter enforces sliding-window rate limits per (user, action). Timestamps
// live in a Redis sorted set scored by occurrence time, so the window needs
// no background sweeper: stale entries are pruned on every write. When Redis
// is unreachable the limiter degrades to an in-process window rather than
// letting abuse through.
type Limiter struct {
	rdb      *redis.Client // optional
	policies map[models.ActionType]Policy
	now      func() time.Time

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewLimiter creates a limiter backed by rdb. rdb may be nil, in which case
// only the in-process window is used. A nil policies map selects
// DefaultPolicies.
func NewLimiter(rdb *redis.Client, policies map[models.ActionType]Policy) *Limiter {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &Limiter{
		rdb:      rdb,
		policies: policies,
		now:      time.Now,
		local:    make(map[string][]time.Time),
	}
}

func limiterKey(action models.ActionType, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, userID)
}

// Allow checks the user's standing and, if within limits, records the action
// in the window. Returns a RateLimitedError carrying the reset time when the
// limit is hit.
func (l *Limiter) Allow(ctx context.Context, action models.ActionType, userID string) error {
	policy, ok := l.policies[action]
	if !ok {
		return nil
	}

	info, err := l.Info(ctx, action, userID)
	if err != nil {
		return err
	}
	if info.Remaining <= 0 {
		observability.RateLimitRejections.WithLabelValues(string(action)).Inc()
		return models.NewRateLimitedError(action, 0, info.ResetAt)
	}

	return l.record(ctx, action, userID, policy)
}

// IsRateLimited reports standing without consuming an action slot.
func (l *Limiter) IsRateLimited(ctx context.Context, action models.ActionType, userID string) (bool, error) {
	info, err := l.Info(ctx, action, userID)
	if err != nil {
		return false, err
	}
	return info.Remaining <= 0, nil
}

// Info returns the caller's remaining budget and window reset time.
func (l *Limiter) Info(ctx context.Context, action models.ActionType, userID string) (LimitInfo, error) {
	policy, ok := l.policies[action]
	if !ok {
		return LimitInfo{Action: action, Limit: -1, Remaining: -1}, nil
	}

	if l.rdb != nil {
		info, err := l.redisInfo(ctx, action, userID, policy)
		if err == nil {
			return info, nil
		}
		observability.RedisErrors.WithLabelValues("ratelimit_info").Inc()
		log.Printf("rate limit lookup fell back to local window: %v", err)
	}
	return l.localInfo(action, userID, policy), nil
}

func (l *Limiter) record(ctx context.Context, action models.ActionType, userID string, policy Policy) error {
	now := l.now()
	if l.rdb != nil {
		if err := l.redisRecord(ctx, action, userID, policy, now); err == nil {
			return nil
		} else {
			observability.RedisErrors.WithLabelValues("ratelimit_record").Inc()
			log.Printf("rate limit record fell back to local window: %v", err)
		}
	}
	l.localRecord(action, userID, policy, now)
	return nil
}

func (l *Limiter) redisInfo(ctx context.Context, action models.ActionType, userID string, policy Policy) (LimitInfo, error) {
	key := limiterKey(action, userID)
	now := l.now()
	cutoff := now.Add(-policy.Window)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return LimitInfo{}, err
	}

	count := int(countCmd.Val())
	info := LimitInfo{
		Action:    action,
		Limit:     policy.MaxActions,
		Remaining: policy.MaxActions - count,
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		info.ResetAt = time.Unix(0, int64(oldest[0].Score)).Add(policy.Window)
	}
	return info, nil
}

func (l *Limiter) redisRecord(ctx context.Context, action models.ActionType, userID string, policy Policy, now time.Time) error {
	key := limiterKey(action, userID)
	cutoff := now.Add(-policy.Window)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, policy.Window)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Limiter) localInfo(action models.ActionType, userID string, policy Policy) LimitInfo {
	key := limiterKey(action, userID)
	now := l.now()
	cutoff := now.Add(-policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := pruneBefore(l.local[key], cutoff)
	l.local[key] = kept

	info := LimitInfo{
		Action:    action,
		Limit:     policy.MaxActions,
		Remaining: policy.MaxActions - len(kept),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if len(kept) > 0 {
		info.ResetAt = kept[0].Add(policy.Window)
	}
	return info
}

func (l *Limiter) localRecord(action models.ActionType, userID string, policy Policy, now time.Time) {
	key := limiterKey(action, userID)
	cutoff := now.Add(-policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.local[key] = append(pruneBefore(l.local[key], cutoff), now)
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
