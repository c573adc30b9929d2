package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"ripple/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Now()
	l := NewLimiter(rdb, nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"), "share %d should pass", i+1)
	}

	err := l.Allow(ctx, models.ActionShare, "user-1")
	require.Error(t, err)

	var rlErr *models.RateLimitedError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, models.ActionShare, rlErr.Action)
	assert.Equal(t, 0, rlErr.Remaining)
	assert.False(t, rlErr.ResetAt.IsZero())
	assert.True(t, models.HasCode(err, models.CodeRateLimited))
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"))
	}
	require.Error(t, l.Allow(ctx, models.ActionShare, "user-1"))

	// Once the window passes, the old entries are pruned on the next check.
	*now = now.Add(61 * time.Second)
	assert.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"))
}

func TestLimiter_PerUserIsolation(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionReport, "user-1"))
	}
	require.Error(t, l.Allow(ctx, models.ActionReport, "user-1"))

	assert.NoError(t, l.Allow(ctx, models.ActionReport, "user-2"))
}

func TestLimiter_PerActionIsolation(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"))
	}
	require.Error(t, l.Allow(ctx, models.ActionShare, "user-1"))

	// Exhausting shares leaves the like budget untouched.
	assert.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))
}

func TestLimiter_InfoTracksRemaining(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	info, err := l.Info(ctx, models.ActionLike, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 10, info.Remaining)
	assert.True(t, info.ResetAt.IsZero())

	require.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))
	require.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))

	info, err = l.Info(ctx, models.ActionLike, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 8, info.Remaining)
	assert.False(t, info.ResetAt.IsZero())
}

func TestLimiter_IsRateLimitedDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		limited, err := l.IsRateLimited(ctx, models.ActionShare, "user-1")
		require.NoError(t, err)
		assert.False(t, limited)
	}
}

func TestLimiter_UnknownActionUnlimited(t *testing.T) {
	l := NewLimiter(nil, map[models.ActionType]Policy{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))
	}

	info, err := l.Info(ctx, models.ActionLike, "user-1")
	require.NoError(t, err)
	assert.Equal(t, -1, info.Limit)
}

func TestLimiter_LocalFallbackWithoutRedis(t *testing.T) {
	l := NewLimiter(nil, nil)
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))
	}
	require.Error(t, l.Allow(ctx, models.ActionLike, "user-1"))

	now = now.Add(61 * time.Second)
	assert.NoError(t, l.Allow(ctx, models.ActionLike, "user-1"))
}

func TestLimiter_FallsBackToLocalOnRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewLimiter(rdb, nil)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"))
	mr.Close()

	// Redis gone: the in-process window takes over rather than failing open.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, models.ActionShare, "user-1"))
	}
	assert.Error(t, l.Allow(ctx, models.ActionShare, "user-1"))
}
