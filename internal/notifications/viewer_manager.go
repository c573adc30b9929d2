package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultWatchedSetKey     = "ws:watched_targets"
	defaultTargetSeenKeyNS   = "ws:target_seen:"
	defaultTargetSeenTTL     = 90 * time.Second
	defaultIdleGrace         = 5 * time.Second
	defaultViewerReaperEvery = 60 * time.Second
)

// ViewerManagerConfig controls Redis viewer tracking and cleanup behavior.
type ViewerManagerConfig struct {
	WatchedSetKey     string
	TargetSeenPrefix  string
	TargetSeenTTL     time.Duration
	IdleGracePeriod   time.Duration
	ReaperInterval    time.Duration
	OnTargetActive    func(targetKey string)
	OnTargetIdle      func(targetKey string)
}

// ViewerManager tracks which targets have live viewers, mirrors that state in
// Redis, and emits active/idle transitions with an idle grace window. The
// transitions drive the upstream document watches: a target acquires its
// single watch on the first viewer and releases it when the last one leaves.
type ViewerManager struct {
	rdb *redis.Client

	mu               sync.RWMutex
	localViewerCount map[string]int
	idleTimers       map[string]*time.Timer
	idleNotified     map[string]bool

	watchedSetKey    string
	targetSeenPrefix string
	targetSeenTTL    time.Duration
	idleGrace        time.Duration
	reaperInterval   time.Duration

	onTargetActive func(targetKey string)
	onTargetIdle   func(targetKey string)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewViewerManager creates a manager and starts a Redis reaper when Redis is available.
func NewViewerManager(rdb *redis.Client, cfg ViewerManagerConfig) *ViewerManager {
	m := &ViewerManager{
		rdb:              rdb,
		localViewerCount: make(map[string]int),
		idleTimers:       make(map[string]*time.Timer),
		idleNotified:     make(map[string]bool),
		watchedSetKey:    defaultWatchedSetKey,
		targetSeenPrefix: defaultTargetSeenKeyNS,
		targetSeenTTL:    defaultTargetSeenTTL,
		idleGrace:        defaultIdleGrace,
		reaperInterval:   defaultViewerReaperEvery,
		onTargetActive:   cfg.OnTargetActive,
		onTargetIdle:     cfg.OnTargetIdle,
		stopCh:           make(chan struct{}),
	}

	if cfg.WatchedSetKey != "" {
		m.watchedSetKey = cfg.WatchedSetKey
	}
	if cfg.TargetSeenPrefix != "" {
		m.targetSeenPrefix = cfg.TargetSeenPrefix
	}
	if cfg.TargetSeenTTL > 0 {
		m.targetSeenTTL = cfg.TargetSeenTTL
	}
	if cfg.IdleGracePeriod > 0 {
		m.idleGrace = cfg.IdleGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		m.reaperInterval = cfg.ReaperInterval
	}

	if m.rdb != nil && m.reaperInterval > 0 {
		go m.reaperLoop()
	}

	return m
}

func (m *ViewerManager) SetCallbacks(onActive, onIdle func(targetKey string)) {
	m.mu.Lock()
	m.onTargetActive = onActive
	m.onTargetIdle = onIdle
	m.mu.Unlock()
}

func (m *ViewerManager) SetIdleGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.idleGrace = d
	m.mu.Unlock()
}

func (m *ViewerManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for key, timer := range m.idleTimers {
			if timer != nil {
				timer.Stop()
			}
			delete(m.idleTimers, key)
		}
		m.mu.Unlock()
	})
}

// Acquire records one more local viewer for targetKey.
func (m *ViewerManager) Acquire(ctx context.Context, targetKey string) {
	wasActive := m.IsActive(ctx, targetKey)

	m.mu.Lock()
	if t, ok := m.idleTimers[targetKey]; ok {
		t.Stop()
		delete(m.idleTimers, targetKey)
	}
	m.localViewerCount[targetKey]++
	m.idleNotified[targetKey] = false
	m.mu.Unlock()

	m.Touch(ctx, targetKey)
	if !wasActive {
		m.emitActive(targetKey)
	}
}

// Touch refreshes the target's presence record in Redis.
func (m *ViewerManager) Touch(ctx context.Context, targetKey string) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.SAdd(ctx, m.watchedSetKey, targetKey).Err(); err != nil {
		log.Printf("viewer touch SADD failed for %s: %v", targetKey, err)
	}
	if err := m.rdb.SetEx(ctx, m.targetSeenKey(targetKey), strconv.FormatInt(time.Now().Unix(), 10), m.targetSeenTTL).Err(); err != nil {
		log.Printf("viewer touch SETEX failed for %s: %v", targetKey, err)
	}
}

// Release drops one local viewer for targetKey; the idle transition fires
// after the grace window if nobody re-acquires.
func (m *ViewerManager) Release(ctx context.Context, targetKey string) {
	m.mu.Lock()
	if n, ok := m.localViewerCount[targetKey]; ok {
		n--
		if n > 0 {
			m.localViewerCount[targetKey] = n
			m.mu.Unlock()
			return
		}
		delete(m.localViewerCount, targetKey)
	}

	if t, ok := m.idleTimers[targetKey]; ok {
		t.Stop()
	}
	grace := m.idleGrace
	m.idleTimers[targetKey] = time.AfterFunc(grace, func() {
		m.finalizeIdle(context.Background(), targetKey)
	})
	m.mu.Unlock()
}

// IsActive reports whether the target has at least one viewer, locally or on
// another process.
func (m *ViewerManager) IsActive(ctx context.Context, targetKey string) bool {
	m.mu.RLock()
	if m.localViewerCount[targetKey] > 0 {
		m.mu.RUnlock()
		return true
	}
	m.mu.RUnlock()

	if m.rdb == nil {
		return false
	}

	exists, err := m.rdb.Exists(ctx, m.targetSeenKey(targetKey)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// ActiveTargetKeys returns watched targets from Redis (with stale filtering),
// unioned with local viewers as a fallback safety net.
func (m *ViewerManager) ActiveTargetKeys(ctx context.Context) []string {
	local := m.localTargetKeys()
	if m.rdb == nil {
		return local
	}

	members, err := m.rdb.SMembers(ctx, m.watchedSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[string]struct{}, len(members)+len(local))
	result := make([]string, 0, len(members)+len(local))

	for _, key := range members {
		exists, existsErr := m.rdb.Exists(ctx, m.targetSeenKey(key)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = m.rdb.SRem(ctx, m.watchedSetKey, key).Err()
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}

	for _, key := range local {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}

	return result
}

// reapOnce is test-visible and performs one cleanup pass.
func (m *ViewerManager) reapOnce(ctx context.Context) {
	if m.rdb == nil {
		return
	}

	members, err := m.rdb.SMembers(ctx, m.watchedSetKey).Result()
	if err != nil {
		return
	}

	for _, key := range members {
		exists, existsErr := m.rdb.Exists(ctx, m.targetSeenKey(key)).Result()
		if existsErr != nil {
			continue
		}
		if exists > 0 {
			continue
		}

		_ = m.rdb.SRem(ctx, m.watchedSetKey, key).Err()

		m.mu.RLock()
		hasLocal := m.localViewerCount[key] > 0
		m.mu.RUnlock()
		if !hasLocal {
			m.emitIdle(key)
		}
	}
}

func (m *ViewerManager) reaperLoop() {
	interval := m.reaperInterval
	if interval <= 0 {
		return
	}
	ctx := context.Background()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

func (m *ViewerManager) finalizeIdle(ctx context.Context, targetKey string) {
	m.mu.Lock()
	if m.localViewerCount[targetKey] > 0 {
		delete(m.idleTimers, targetKey)
		m.mu.Unlock()
		return
	}
	delete(m.idleTimers, targetKey)
	m.mu.Unlock()

	if m.rdb != nil {
		exists, err := m.rdb.Exists(ctx, m.targetSeenKey(targetKey)).Result()
		if err == nil && exists > 0 {
			// Another process likely refreshed the viewer record. Keep the
			// watch alive.
			return
		}
		_ = m.rdb.SRem(ctx, m.watchedSetKey, targetKey).Err()
	}

	m.emitIdle(targetKey)
}

func (m *ViewerManager) emitActive(targetKey string) {
	m.mu.Lock()
	m.idleNotified[targetKey] = false
	cb := m.onTargetActive
	m.mu.Unlock()
	if cb != nil {
		cb(targetKey)
	}
}

func (m *ViewerManager) emitIdle(targetKey string) {
	m.mu.Lock()
	if m.idleNotified[targetKey] {
		m.mu.Unlock()
		return
	}
	m.idleNotified[targetKey] = true
	cb := m.onTargetIdle
	m.mu.Unlock()
	if cb != nil {
		cb(targetKey)
	}
}

func (m *ViewerManager) localTargetKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.localViewerCount))
	for key, count := range m.localViewerCount {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *ViewerManager) targetSeenKey(targetKey string) string {
	return m.targetSeenPrefix + targetKey
}
