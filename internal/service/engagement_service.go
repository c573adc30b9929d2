package service

import (
	"context"

	"ripple/internal/cache"
	"ripple/internal/engagement"
	"ripple/internal/models"
)

// LikeToggler is the mutator surface the service needs.
type LikeToggler interface {
	ToggleLike(ctx context.Context, target models.TargetRef, user models.UserInfo) (models.ToggleResult, error)
	Engagement(ctx context.Context, target models.TargetRef, userID string) (models.Counters, bool, error)
	RecordShare(ctx context.Context, target models.TargetRef) (int64, error)
}

// IntentQueue accepts like/unlike intents that could not reach the store.
type IntentQueue interface {
	Enqueue(ctx context.Context, target models.TargetRef, user models.UserInfo, desired bool)
	DrainAll(ctx context.Context)
	Len() int
}

// ActionLimiter enforces per-user action budgets.
type ActionLimiter interface {
	Allow(ctx context.Context, action models.ActionType, userID string) error
	Info(ctx context.Context, action models.ActionType, userID string) (engagement.LimitInfo, error)
}

// LikeMirror is the durable local fallback for like state.
type LikeMirror interface {
	GetLiked(ctx context.Context, target models.TargetRef, userID string) (liked, found bool, err error)
	SetLiked(ctx context.Context, target models.TargetRef, userID string, liked bool) error
}

// EngagementService orchestrates the engagement pipeline: rate limiting up
// front, the transactional mutator as the fast path, and the operation queue
// as the degraded path when the store is unreachable.
type EngagementService struct {
	toggler LikeToggler
	queue   IntentQueue
	limiter ActionLimiter
	mirror  LikeMirror
}

type ToggleLikeInput struct {
	Target models.TargetRef
	User   models.UserInfo
}

type RecordActionInput struct {
	Target models.TargetRef
	UserID string
	Action models.ActionType
}

// EngagementView is the read model for one target as seen by one user.
type EngagementView struct {
	Target   models.TargetRef `json:"target"`
	Counters models.Counters  `json:"counters"`
	Liked    bool             `json:"liked"`
}

func NewEngagementService(toggler LikeToggler, queue IntentQueue, limiter ActionLimiter, mirror LikeMirror) *EngagementService {
	return &EngagementService{
		toggler: toggler,
		queue:   queue,
		limiter: limiter,
		mirror:  mirror,
	}
}

// ToggleLike flips the user's like on the target. Rate limiting rejects
// before any store traffic. A transient store failure does not surface to
// the caller: the intent is queued, the mirror is updated optimistically and
// the response reports the intended state with Queued set.
func (s *EngagementService) ToggleLike(ctx context.Context, in ToggleLikeInput) (models.ToggleResult, error) {
	if err := validateTarget(in.Target); err != nil {
		return models.ToggleResult{}, err
	}
	if in.User.UserID == "" {
		return models.ToggleResult{}, models.NewValidationError("user_id is required")
	}
	if err := s.limiter.Allow(ctx, models.ActionLike, in.User.UserID); err != nil {
		return models.ToggleResult{}, err
	}

	result, err := s.toggler.ToggleLike(ctx, in.Target, in.User)
	if err == nil {
		cache.InvalidateTarget(ctx, in.Target.Key())
		return result, nil
	}
	if !models.IsTransient(err) {
		return models.ToggleResult{}, err
	}

	return s.queueToggle(ctx, in), nil
}

// queueToggle is the degraded path: derive the intended state from the
// mirror, record it optimistically and hand delivery to the queue.
func (s *EngagementService) queueToggle(ctx context.Context, in ToggleLikeInput) models.ToggleResult {
	var current bool
	if s.mirror != nil {
		if liked, found, err := s.mirror.GetLiked(ctx, in.Target, in.User.UserID); err == nil && found {
			current = liked
		}
	}
	desired := !current

	if s.mirror != nil {
		// Best effort; the queued operation re-derives on delivery anyway.
		_ = s.mirror.SetLiked(ctx, in.Target, in.User.UserID, desired)
	}
	s.queue.Enqueue(ctx, in.Target, in.User, desired)

	return models.ToggleResult{Liked: desired, Queued: true}
}

// GetEngagement reads the normalized engagement view for one target, with a
// short cache-aside window absorbing read bursts.
func (s *EngagementService) GetEngagement(ctx context.Context, target models.TargetRef, userID string) (EngagementView, error) {
	if err := validateTarget(target); err != nil {
		return EngagementView{}, err
	}

	var view EngagementView
	err := cache.Aside(ctx, cache.EngagementKey(target.Key(), userID), &view, cache.EngagementTTL, func() error {
		counters, liked, err := s.toggler.Engagement(ctx, target, userID)
		if err != nil {
			return err
		}
		view = EngagementView{Target: target, Counters: counters, Liked: liked}
		return nil
	})
	if err != nil {
		return EngagementView{}, err
	}
	return view, nil
}

// RecordAction applies a non-like action. Shares bump the target's counter;
// saves and reports only consume rate-limit budget here, their side effects
// live elsewhere.
func (s *EngagementService) RecordAction(ctx context.Context, in RecordActionInput) (EngagementView, error) {
	if err := validateTarget(in.Target); err != nil {
		return EngagementView{}, err
	}
	if in.UserID == "" {
		return EngagementView{}, models.NewValidationError("user_id is required")
	}
	if !in.Action.Valid() || in.Action == models.ActionLike {
		return EngagementView{}, models.NewValidationError("invalid action")
	}
	if err := s.limiter.Allow(ctx, in.Action, in.UserID); err != nil {
		return EngagementView{}, err
	}

	if in.Action == models.ActionShare {
		if _, err := s.toggler.RecordShare(ctx, in.Target); err != nil {
			return EngagementView{}, err
		}
		cache.InvalidateTarget(ctx, in.Target.Key())
	}
	return s.GetEngagement(ctx, in.Target, in.UserID)
}

// LimitInfo reports the user's remaining budget for an action.
func (s *EngagementService) LimitInfo(ctx context.Context, action models.ActionType, userID string) (engagement.LimitInfo, error) {
	if !action.Valid() {
		return engagement.LimitInfo{}, models.NewValidationError("invalid action")
	}
	return s.limiter.Info(ctx, action, userID)
}

// DrainQueue flushes pending intents, typically on connectivity recovery.
func (s *EngagementService) DrainQueue(ctx context.Context) {
	s.queue.DrainAll(ctx)
}

// QueueDepth reports the number of pending intents.
func (s *EngagementService) QueueDepth() int {
	return s.queue.Len()
}

func validateTarget(target models.TargetRef) error {
	if target.ContentID == "" {
		return models.NewValidationError("content_id is required")
	}
	if !target.ContentType.Valid() {
		return models.NewValidationError("invalid content_type")
	}
	return nil
}
