package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViewerManager(t *testing.T, cfg ViewerManagerConfig) (*ViewerManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = time.Hour // keep the background loop out of tests
	}
	m := NewViewerManager(rdb, cfg)
	t.Cleanup(m.Stop)
	return m, mr
}

func TestViewerManager_AcquireMarksActive(t *testing.T) {
	activeCh := make(chan string, 4)
	m, mr := newTestViewerManager(t, ViewerManagerConfig{
		OnTargetActive: func(key string) { activeCh <- key },
	})
	ctx := context.Background()

	m.Acquire(ctx, "post:p1")
	assert.True(t, m.IsActive(ctx, "post:p1"))

	select {
	case key := <-activeCh:
		assert.Equal(t, "post:p1", key)
	case <-time.After(time.Second):
		t.Fatal("active callback never fired")
	}

	// Redis now carries the presence record for other processes.
	members, err := mr.SMembers(defaultWatchedSetKey)
	require.NoError(t, err)
	assert.Contains(t, members, "post:p1")
	assert.True(t, mr.Exists(defaultTargetSeenKeyNS+"post:p1"))

	// A second viewer does not re-fire the transition.
	m.Acquire(ctx, "post:p1")
	select {
	case key := <-activeCh:
		t.Fatalf("unexpected second active transition for %q", key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestViewerManager_ReleaseKeepsActiveWhileViewersRemain(t *testing.T) {
	idleCh := make(chan string, 4)
	m, _ := newTestViewerManager(t, ViewerManagerConfig{
		IdleGracePeriod: 10 * time.Millisecond,
		OnTargetIdle:    func(key string) { idleCh <- key },
	})
	ctx := context.Background()

	m.Acquire(ctx, "post:p1")
	m.Acquire(ctx, "post:p1")
	m.Release(ctx, "post:p1")

	select {
	case key := <-idleCh:
		t.Fatalf("premature idle for %q", key)
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, m.IsActive(ctx, "post:p1"))
}

func TestViewerManager_ReacquireWithinGraceCancelsIdle(t *testing.T) {
	idleCh := make(chan string, 4)
	m, _ := newTestViewerManager(t, ViewerManagerConfig{
		IdleGracePeriod: 50 * time.Millisecond,
		OnTargetIdle:    func(key string) { idleCh <- key },
	})
	ctx := context.Background()

	m.Acquire(ctx, "post:p1")
	m.Release(ctx, "post:p1")
	m.Acquire(ctx, "post:p1") // back within the grace window

	select {
	case key := <-idleCh:
		t.Fatalf("idle fired despite reacquire for %q", key)
	case <-time.After(200 * time.Millisecond):
	}
	assert.True(t, m.IsActive(ctx, "post:p1"))
}

func TestViewerManager_IdleAfterPresenceExpiry(t *testing.T) {
	idleCh := make(chan string, 4)
	m, mr := newTestViewerManager(t, ViewerManagerConfig{
		IdleGracePeriod: 10 * time.Millisecond,
		TargetSeenTTL:   time.Second,
		OnTargetIdle:    func(key string) { idleCh <- key },
	})
	ctx := context.Background()

	m.Acquire(ctx, "post:p1")
	m.Release(ctx, "post:p1")

	// The grace timer defers to the Redis presence record while it lives:
	// another process may still have viewers.
	select {
	case key := <-idleCh:
		t.Fatalf("idle fired while presence record alive for %q", key)
	case <-time.After(100 * time.Millisecond):
	}

	// Once the record expires the reaper emits the idle transition.
	mr.FastForward(2 * time.Second)
	m.reapOnce(ctx)

	select {
	case key := <-idleCh:
		assert.Equal(t, "post:p1", key)
	case <-time.After(time.Second):
		t.Fatal("idle never fired after presence expiry")
	}

	// Idle is emitted once even if the reaper runs again.
	m.reapOnce(ctx)
	select {
	case key := <-idleCh:
		t.Fatalf("duplicate idle for %q", key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestViewerManager_WithoutRedisIdlesAfterGrace(t *testing.T) {
	idleCh := make(chan string, 4)
	m := NewViewerManager(nil, ViewerManagerConfig{
		IdleGracePeriod: 10 * time.Millisecond,
		OnTargetIdle:    func(key string) { idleCh <- key },
	})
	defer m.Stop()
	ctx := context.Background()

	m.Acquire(ctx, "post:p1")
	m.Release(ctx, "post:p1")

	select {
	case key := <-idleCh:
		assert.Equal(t, "post:p1", key)
	case <-time.After(time.Second):
		t.Fatal("idle never fired")
	}
	assert.False(t, m.IsActive(ctx, "post:p1"))
}

func TestViewerManager_ActiveTargetKeysUnionsLocalAndRedis(t *testing.T) {
	m, mr := newTestViewerManager(t, ViewerManagerConfig{})
	ctx := context.Background()

	m.Acquire(ctx, "post:local")

	// A record left by another process.
	_, err := mr.SAdd(defaultWatchedSetKey, "post:remote")
	require.NoError(t, err)
	require.NoError(t, mr.Set(defaultTargetSeenKeyNS+"post:remote", "1"))

	// A stale record with no presence key gets reaped out of the set.
	_, err = mr.SAdd(defaultWatchedSetKey, "post:stale")
	require.NoError(t, err)

	keys := m.ActiveTargetKeys(ctx)
	assert.ElementsMatch(t, []string{"post:local", "post:remote"}, keys)

	members, err := mr.SMembers(defaultWatchedSetKey)
	require.NoError(t, err)
	assert.NotContains(t, members, "post:stale")
}
