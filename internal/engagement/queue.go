package engagement

import (
	"context"
	"log"
	"sync"
	"time"

	"ripple/internal/localstore"
	"ripple/internal/models"
	"ripple/internal/observability"

	"github.com/google/uuid"
)

// Toggler is the slice of the mutator the queue depends on.
type Toggler interface {
	ToggleLike(ctx context.Context, target models.TargetRef, user models.UserInfo) (models.ToggleResult, error)
	IsLiked(ctx context.Context, target models.TargetRef, userID string) (bool, error)
}

// QueueConfig tunes retry behavior. The zero value selects production
// defaults (1s backoff base, 3 retries).
type QueueConfig struct {
	BackoffBase time.Duration
	MaxRetries  int
}

// OpQueue guarantees eventual delivery of like/unlike intents despite
// transient failures, without duplicating effort: at most one operation is
// pending per (target, user) pair, and a newer intent supersedes the old
// one. Queue state is persisted after every mutation so a process restart
// resumes draining.
type OpQueue struct {
	mu       sync.Mutex
	ops      map[string]*models.QueuedOperation
	timers   map[string]*time.Timer
	draining bool
	closed   bool

	toggler Toggler
	persist *localstore.Store // optional
	cfg     QueueConfig
	logger  *observability.QueueLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOpQueue creates an operation queue. persist may be nil (no durability).
func NewOpQueue(toggler Toggler, persist *localstore.Store, cfg QueueConfig) *OpQueue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OpQueue{
		ops:     make(map[string]*models.QueuedOperation),
		timers:  make(map[string]*time.Timer),
		toggler: toggler,
		persist: persist,
		cfg:     cfg,
		logger:  observability.NewQueueLogger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func opKey(target models.TargetRef, userID string) string {
	return target.Key() + "|" + userID
}

// Enqueue records a like/unlike intent for background delivery. An existing
// entry for the same (target, user) pair is superseded: last intent wins.
func (q *OpQueue) Enqueue(ctx context.Context, target models.TargetRef, user models.UserInfo, desired bool) {
	key := opKey(target, user.UserID)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	existing, superseded := q.ops[key]
	if superseded {
		existing.Desired = desired
		existing.EnqueuedAt = time.Now()
		existing.RetryCount = 0
	} else {
		q.ops[key] = &models.QueuedOperation{
			ID:         uuid.NewString(),
			ContentID:  target.ContentID,
			ContentTyp: string(target.ContentType),
			UserID:     user.UserID,
			Display:    user.DisplayName,
			PhotoURL:   user.PhotoURL,
			Desired:    desired,
			EnqueuedAt: time.Now(),
		}
	}
	q.scheduleLocked(key, q.delayFor(0))
	observability.QueueDepth.Set(float64(len(q.ops)))
	q.mu.Unlock()

	q.logger.LogEnqueue(ctx, target.Key(), user.UserID, superseded)
	q.save(ctx)
}

// DrainAll attempts every pending operation immediately. It is idempotent:
// a re-entrant call while a drain is outstanding is a no-op.
func (q *OpQueue) DrainAll(ctx context.Context) {
	q.mu.Lock()
	if q.draining || q.closed {
		q.mu.Unlock()
		return
	}
	q.draining = true
	keys := make([]string, 0, len(q.ops))
	for key := range q.ops {
		keys = append(keys, key)
		q.stopTimerLocked(key)
	}
	q.mu.Unlock()

	for _, key := range keys {
		q.attempt(ctx, key)
	}

	q.mu.Lock()
	q.draining = false
	q.mu.Unlock()
}

// Clear cancels all pending retry timers and wipes persisted state.
func (q *OpQueue) Clear(ctx context.Context) {
	q.mu.Lock()
	for key := range q.timers {
		q.stopTimerLocked(key)
	}
	q.ops = make(map[string]*models.QueuedOperation)
	observability.QueueDepth.Set(0)
	q.mu.Unlock()

	if q.persist != nil {
		if err := q.persist.ClearQueue(ctx); err != nil {
			log.Printf("clear persisted queue: %v", err)
		}
	}
}

// Restore loads the persisted queue snapshot and schedules its delivery.
// Call once at startup.
func (q *OpQueue) Restore(ctx context.Context) error {
	if q.persist == nil {
		return nil
	}
	ops, err := q.persist.LoadQueue(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	for i := range ops {
		op := ops[i]
		key := opKey(op.Target(), op.UserID)
		q.ops[key] = &op
		q.scheduleLocked(key, q.delayFor(op.RetryCount))
	}
	observability.QueueDepth.Set(float64(len(q.ops)))
	q.mu.Unlock()
	return nil
}

// Close stops all timers and rejects further work. Pending operations stay
// persisted for the next process lifetime.
func (q *OpQueue) Close() {
	q.cancel()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for key := range q.timers {
		q.stopTimerLocked(key)
	}
}

// Len reports the number of pending operations.
func (q *OpQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Pending returns a copy of the pending operations.
func (q *OpQueue) Pending() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// delayFor is the exponential backoff schedule: base * 2^retryCount.
func (q *OpQueue) delayFor(retryCount int) time.Duration {
	return q.cfg.BackoffBase << uint(retryCount)
}

func (q *OpQueue) scheduleLocked(key string, delay time.Duration) {
	q.stopTimerLocked(key)
	q.timers[key] = time.AfterFunc(delay, func() {
		q.attempt(q.ctx, key)
	})
}

func (q *OpQueue) stopTimerLocked(key string) {
	if t, ok := q.timers[key]; ok {
		t.Stop()
		delete(q.timers, key)
	}
}

// attempt delivers one pending operation. The correct action is re-derived
// from current authoritative state (remote store first, local mirror as
// fallback) rather than replaying the originally captured action, because
// state may have changed since enqueueing.
func (q *OpQueue) attempt(ctx context.Context, key string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.timers, key)
	op, ok := q.ops[key]
	if !ok {
		q.mu.Unlock()
		return
	}
	snapshot := *op
	q.mu.Unlock()

	target := snapshot.Target()
	liked, derived, fatal := q.deriveCurrent(ctx, snapshot)
	switch {
	case fatal != nil:
		// Target gone (or another non-retryable failure): nothing left to
		// deliver for this intent.
		q.drop(ctx, key, snapshot)
		return
	case !derived:
		q.retryOrDrop(ctx, key)
		return
	}

	if liked == snapshot.Desired {
		// State already matches the intent; nothing to replay.
		q.complete(ctx, key, snapshot)
		return
	}

	if _, err := q.toggler.ToggleLike(ctx, target, snapshot.User()); err != nil {
		if models.IsTransient(err) {
			q.retryOrDrop(ctx, key)
		} else {
			q.drop(ctx, key, snapshot)
		}
		return
	}
	q.complete(ctx, key, snapshot)
}

// deriveCurrent resolves the user's current like state. Returns derived=false
// when neither the remote store nor the mirror can answer.
func (q *OpQueue) deriveCurrent(ctx context.Context, op models.QueuedOperation) (liked, derived bool, fatal error) {
	target := op.Target()
	liked, err := q.toggler.IsLiked(ctx, target, op.UserID)
	if err == nil {
		return liked, true, nil
	}
	if !models.IsTransient(err) {
		return false, false, err
	}
	if q.persist != nil {
		if mirrored, found, mErr := q.persist.GetLiked(ctx, target, op.UserID); mErr == nil && found {
			return mirrored, true, nil
		}
	}
	return false, false, nil
}

func (q *OpQueue) retryOrDrop(ctx context.Context, key string) {
	q.mu.Lock()
	op, ok := q.ops[key]
	if !ok || q.closed {
		q.mu.Unlock()
		return
	}
	op.RetryCount++
	if op.RetryCount >= q.cfg.MaxRetries {
		snapshot := *op
		delete(q.ops, key)
		observability.QueueDepth.Set(float64(len(q.ops)))
		q.mu.Unlock()

		observability.QueueDroppedTotal.Inc()
		q.logger.LogDrop(ctx, snapshot.Target().Key(), snapshot.UserID, snapshot.RetryCount)
		log.Printf("%v", models.NewMaxRetriesExceededError(snapshot))
		q.save(ctx)
		return
	}
	delay := q.delayFor(op.RetryCount)
	q.scheduleLocked(key, delay)
	retryCount := op.RetryCount
	targetKey := op.Target().Key()
	userID := op.UserID
	q.mu.Unlock()

	observability.QueueRetriesTotal.Inc()
	q.logger.LogRetry(ctx, targetKey, userID, retryCount, delay.Seconds())
	q.save(ctx)
}

func (q *OpQueue) complete(ctx context.Context, key string, op models.QueuedOperation) {
	q.mu.Lock()
	delete(q.ops, key)
	q.stopTimerLocked(key)
	observability.QueueDepth.Set(float64(len(q.ops)))
	q.mu.Unlock()

	observability.QueueDrainedTotal.Inc()
	q.logger.LogDrained(ctx, op.Target().Key(), op.UserID)
	q.save(ctx)
}

func (q *OpQueue) drop(ctx context.Context, key string, op models.QueuedOperation) {
	q.mu.Lock()
	delete(q.ops, key)
	q.stopTimerLocked(key)
	observability.QueueDepth.Set(float64(len(q.ops)))
	q.mu.Unlock()

	observability.QueueDroppedTotal.Inc()
	q.logger.LogDrop(ctx, op.Target().Key(), op.UserID, op.RetryCount)
	q.save(ctx)
}

// save persists the current queue snapshot. Best effort: local storage may
// be unavailable (quota, disk), and the in-memory queue remains correct.
func (q *OpQueue) save(ctx context.Context) {
	if q.persist == nil {
		return
	}
	if err := q.persist.SaveQueue(ctx, q.Pending()); err != nil {
		log.Printf("persist queue: %v", err)
	}
}
