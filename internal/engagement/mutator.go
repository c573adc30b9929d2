package engagement

import (
	"context"
	"log"
	"time"

	"ripple/internal/docstore"
	"ripple/internal/localstore"
	"ripple/internal/models"
	"ripple/internal/observability"
)

// DefaultReadTimeout bounds each transaction attempt. A timeout is
// classified as transient and handed to the operation queue.
const DefaultReadTimeout = 10 * time.Second

// Mutator flips one user's like state on one target as a single atomic unit.
type Mutator struct {
	store       docstore.Store
	mirror      *localstore.Store
	readTimeout time.Duration
	now         func() time.Time
}

// NewMutator creates a mutator over the given store. mirror may be nil, in
// which case no local fallback is maintained.
func NewMutator(store docstore.Store, mirror *localstore.Store) *Mutator {
	return &Mutator{
		store:       store,
		mirror:      mirror,
		readTimeout: DefaultReadTimeout,
		now:         time.Now,
	}
}

// ToggleLike performs an atomically-checked read-modify-write: add the like
// if absent, remove it if present, with the counter clamped at zero. No
// partial update is observable by concurrent readers.
func (m *Mutator) ToggleLike(ctx context.Context, target models.TargetRef, user models.UserInfo) (models.ToggleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	var result models.ToggleResult
	err := m.store.RunTransaction(ctx, target, func(tx docstore.Tx) error {
		snap, err := tx.Get()
		if err != nil {
			return err
		}
		if !snap.Exists {
			return models.NewTargetNotFoundError(target)
		}

		likes := decodeLikes(snap.Data)
		count := countField(snap.Data, fieldLikesCount, fieldLikes)

		idx := -1
		for i, rec := range likes {
			if rec.UserID == user.UserID {
				idx = i
				break
			}
		}

		if idx >= 0 {
			likes = append(likes[:idx], likes[idx+1:]...)
			count--
			result.Liked = false
		} else {
			likes = append(likes, models.LikeRecord{
				UserID:      user.UserID,
				DisplayName: user.DisplayName,
				PhotoURL:    user.PhotoURL,
				Timestamp:   m.now(),
			})
			count++
			result.Liked = true
		}
		if count < 0 {
			count = 0
		}
		result.LikesCount = count

		return tx.Set(map[string]interface{}{
			fieldLikes:      encodeLikes(likes),
			fieldLikesCount: count,
		})
	})
	if err != nil {
		return models.ToggleResult{}, m.classify(err, "toggle_like")
	}

	m.mirrorLiked(ctx, target, user.UserID, result.Liked)
	return result, nil
}

// IsLiked reads the current like state from the authoritative store.
func (m *Mutator) IsLiked(ctx context.Context, target models.TargetRef, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	var liked bool
	err := m.store.RunTransaction(ctx, target, func(tx docstore.Tx) error {
		snap, err := tx.Get()
		if err != nil {
			return err
		}
		if !snap.Exists {
			return models.NewTargetNotFoundError(target)
		}
		for _, rec := range decodeLikes(snap.Data) {
			if rec.UserID == userID {
				liked = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return false, m.classify(err, "is_liked")
	}
	return liked, nil
}

// Engagement reads the full normalized view for one target: canonical
// counters plus whether userID is in the like set.
func (m *Mutator) Engagement(ctx context.Context, target models.TargetRef, userID string) (models.Counters, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	var counters models.Counters
	var liked bool
	err := m.store.RunTransaction(ctx, target, func(tx docstore.Tx) error {
		snap, err := tx.Get()
		if err != nil {
			return err
		}
		if !snap.Exists {
			return models.NewTargetNotFoundError(target)
		}
		counters = DecodeCounters(snap.Data)
		for _, rec := range decodeLikes(snap.Data) {
			if rec.UserID == userID {
				liked = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return models.Counters{}, false, m.classify(err, "engagement")
	}
	return counters, liked, nil
}

// RecordShare bumps the target's share counter atomically and returns the
// new value.
func (m *Mutator) RecordShare(ctx context.Context, target models.TargetRef) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	var count int64
	err := m.store.RunTransaction(ctx, target, func(tx docstore.Tx) error {
		snap, err := tx.Get()
		if err != nil {
			return err
		}
		if !snap.Exists {
			return models.NewTargetNotFoundError(target)
		}
		count = countField(snap.Data, fieldSharesCount, fieldShares) + 1
		return tx.Set(map[string]interface{}{fieldSharesCount: count})
	})
	if err != nil {
		return 0, m.classify(err, "record_share")
	}
	return count, nil
}

// classify maps raw store failures onto the error taxonomy. AppErrors raised
// inside the transaction callback pass through untouched.
func (m *Mutator) classify(err error, operation string) error {
	if models.HasCode(err, models.CodeTargetNotFound) {
		return err
	}
	if docstore.IsTransient(err) {
		observability.StoreTransientErrors.WithLabelValues(operation).Inc()
		return models.NewTransientError(err)
	}
	return err
}

// mirrorLiked records the resulting boolean in the local mirror. Best
// effort: the mirror is a fallback cache, never a reason to fail a toggle.
func (m *Mutator) mirrorLiked(ctx context.Context, target models.TargetRef, userID string, liked bool) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.SetLiked(ctx, target, userID, liked); err != nil {
		log.Printf("mirror write failed for %s: %v", target.Key(), err)
	}
}
