package engagement

import (
	"context"
	"sync"
	"time"

	"ripple/internal/docstore"
	"ripple/internal/models"
	"ripple/internal/observability"
)

// DefaultDebounce is the trailing-edge delay applied to watch snapshots
// before they reach subscribers.
const DefaultDebounce = 300 * time.Millisecond

// UpdateFunc receives the normalized, debounced engagement state for a
// watched target.
type UpdateFunc func(models.EngagementUpdate)

type subscription struct {
	target models.TargetRef
	stop   func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending *models.EngagementUpdate
	last    models.Counters
	hasLast bool
	failed  bool
	closed  bool
}

// Multiplexer maintains at most one store watch per target regardless of how
// many views display it, and coalesces rapid snapshot bursts into a single
// delivery per debounce window. A failed watch poisons only its own target:
// subscribers keep the last delivered counters and every other subscription
// stays live.
type Multiplexer struct {
	store    docstore.Store
	debounce time.Duration
	onUpdate UpdateFunc

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewMultiplexer creates a multiplexer delivering through onUpdate. A
// non-positive debounce selects DefaultDebounce.
func NewMultiplexer(store docstore.Store, debounce time.Duration, onUpdate UpdateFunc) *Multiplexer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Multiplexer{
		store:    store,
		debounce: debounce,
		onUpdate: onUpdate,
		subs:     make(map[string]*subscription),
	}
}

// Subscribe starts watching target. Subscribing to an already-watched target
// is a no-op: snapshots fan out through the single existing watch.
func (m *Multiplexer) Subscribe(ctx context.Context, target models.TargetRef) error {
	key := target.Key()

	m.mu.Lock()
	if _, ok := m.subs[key]; ok {
		m.mu.Unlock()
		return nil
	}
	sub := &subscription{target: target}
	m.subs[key] = sub
	m.mu.Unlock()

	stop, err := m.store.Watch(ctx, target,
		func(snap docstore.Snapshot) { m.handleSnapshot(sub, snap) },
		func(watchErr error) { m.handleError(sub, watchErr) },
	)
	if err != nil {
		m.mu.Lock()
		delete(m.subs, key)
		m.mu.Unlock()
		return models.NewSubscriptionError(target, err)
	}

	sub.mu.Lock()
	sub.stop = stop
	stopNow := sub.closed
	sub.mu.Unlock()
	if stopNow {
		stop()
	}
	return nil
}

// Unsubscribe tears down the watch for target. Unknown targets are a no-op.
func (m *Multiplexer) Unsubscribe(target models.TargetRef) {
	m.mu.Lock()
	sub, ok := m.subs[target.Key()]
	if ok {
		delete(m.subs, target.Key())
	}
	m.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Subscribed reports whether target currently has a live watch.
func (m *Multiplexer) Subscribed(target models.TargetRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[target.Key()]
	return ok
}

// Len reports the number of active subscriptions.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Shutdown tears down every watch and pending timer.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// handleSnapshot stages the normalized snapshot and (re)arms the trailing
// debounce timer. Bursts within the window collapse to one delivery carrying
// the latest payload.
func (m *Multiplexer) handleSnapshot(sub *subscription, snap docstore.Snapshot) {
	counters := DecodeSnapshot(snap)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.failed = false
	if sub.pending != nil {
		observability.DebounceCoalescedTotal.Inc()
	}
	sub.pending = &models.EngagementUpdate{Target: sub.target, Counters: counters}

	// Every snapshot opens a fresh window. The generation check in fire keeps
	// an already-expired timer blocked on sub.mu from delivering this payload
	// before its own window elapses.
	sub.gen++
	gen := sub.gen
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.timer = time.AfterFunc(m.debounce, func() { m.fire(sub, gen) })
}

// fire delivers the staged update after the debounce window elapses. A stale
// generation means a newer snapshot re-armed the window; that timer delivers
// instead.
func (m *Multiplexer) fire(sub *subscription, gen uint64) {
	sub.mu.Lock()
	if gen != sub.gen {
		sub.mu.Unlock()
		return
	}
	if sub.closed || sub.pending == nil {
		sub.timer = nil
		sub.mu.Unlock()
		return
	}
	update := *sub.pending
	sub.pending = nil
	sub.timer = nil
	sub.last = update.Counters
	sub.hasLast = true
	sub.mu.Unlock()

	m.onUpdate(update)
}

// handleError marks the target failed and delivers an error update carrying
// the last known counters. Stale-but-present beats empty: subscribers keep
// rendering the previous numbers.
func (m *Multiplexer) handleError(sub *subscription, err error) {
	observability.WatchErrorsTotal.WithLabelValues(string(sub.target.ContentType)).Inc()
	appErr := models.NewSubscriptionError(sub.target, err)
	observability.GlobalLogger.Error("watch failed",
		"target", sub.target.Key(),
		"error", appErr.Error(),
	)

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.failed = true
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	sub.pending = nil
	update := models.EngagementUpdate{
		Target:   sub.target,
		Counters: sub.last,
		Err:      appErr.Message,
	}
	sub.mu.Unlock()

	m.onUpdate(update)
}

// Failed reports whether the target's watch has errored since its last good
// snapshot.
func (m *Multiplexer) Failed(target models.TargetRef) bool {
	m.mu.Lock()
	sub, ok := m.subs[target.Key()]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.failed
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
