package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ripple/internal/engagement"
	"ripple/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTarget = models.TargetRef{ContentID: "post-1", ContentType: models.ContentTypePost}
	testUser   = models.UserInfo{UserID: "user-1", DisplayName: "Alice"}
)

type stubToggler struct {
	toggleFn func(ctx context.Context, target models.TargetRef, user models.UserInfo) (models.ToggleResult, error)
	engageFn func(ctx context.Context, target models.TargetRef, userID string) (models.Counters, bool, error)
	shareFn  func(ctx context.Context, target models.TargetRef) (int64, error)
}

func (s *stubToggler) ToggleLike(ctx context.Context, target models.TargetRef, user models.UserInfo) (models.ToggleResult, error) {
	return s.toggleFn(ctx, target, user)
}

func (s *stubToggler) Engagement(ctx context.Context, target models.TargetRef, userID string) (models.Counters, bool, error) {
	if s.engageFn == nil {
		return models.Counters{}, false, nil
	}
	return s.engageFn(ctx, target, userID)
}

func (s *stubToggler) RecordShare(ctx context.Context, target models.TargetRef) (int64, error) {
	if s.shareFn == nil {
		return 0, nil
	}
	return s.shareFn(ctx, target)
}

type stubQueue struct {
	enqueued []models.QueuedOperation
	drained  int
}

func (s *stubQueue) Enqueue(_ context.Context, target models.TargetRef, user models.UserInfo, desired bool) {
	s.enqueued = append(s.enqueued, models.QueuedOperation{
		ContentID:  target.ContentID,
		ContentTyp: string(target.ContentType),
		UserID:     user.UserID,
		Desired:    desired,
	})
}

func (s *stubQueue) DrainAll(context.Context) { s.drained++ }
func (s *stubQueue) Len() int                 { return len(s.enqueued) }

type stubLimiter struct {
	allowErr error
	allowed  []models.ActionType
}

func (s *stubLimiter) Allow(_ context.Context, action models.ActionType, _ string) error {
	if s.allowErr != nil {
		return s.allowErr
	}
	s.allowed = append(s.allowed, action)
	return nil
}

func (s *stubLimiter) Info(_ context.Context, action models.ActionType, _ string) (engagement.LimitInfo, error) {
	return engagement.LimitInfo{Action: action, Limit: 10, Remaining: 10}, nil
}

type stubMirror struct {
	state map[string]bool
}

func (s *stubMirror) key(target models.TargetRef, userID string) string {
	return target.Key() + "|" + userID
}

func (s *stubMirror) GetLiked(_ context.Context, target models.TargetRef, userID string) (bool, bool, error) {
	liked, found := s.state[s.key(target, userID)]
	return liked, found, nil
}

func (s *stubMirror) SetLiked(_ context.Context, target models.TargetRef, userID string, liked bool) error {
	if s.state == nil {
		s.state = make(map[string]bool)
	}
	s.state[s.key(target, userID)] = liked
	return nil
}

func TestEngagementService_ToggleLike_Success(t *testing.T) {
	toggler := &stubToggler{
		toggleFn: func(context.Context, models.TargetRef, models.UserInfo) (models.ToggleResult, error) {
			return models.ToggleResult{Liked: true, LikesCount: 8}, nil
		},
	}
	queue := &stubQueue{}
	svc := NewEngagementService(toggler, queue, &stubLimiter{}, &stubMirror{})

	result, err := svc.ToggleLike(context.Background(), ToggleLikeInput{Target: testTarget, User: testUser})
	require.NoError(t, err)
	assert.True(t, result.Liked)
	assert.Equal(t, int64(8), result.LikesCount)
	assert.False(t, result.Queued)
	assert.Empty(t, queue.enqueued)
}

func TestEngagementService_ToggleLike_RateLimitedFailsFast(t *testing.T) {
	togglerCalled := false
	toggler := &stubToggler{
		toggleFn: func(context.Context, models.TargetRef, models.UserInfo) (models.ToggleResult, error) {
			togglerCalled = true
			return models.ToggleResult{}, nil
		},
	}
	limiter := &stubLimiter{
		allowErr: models.NewRateLimitedError(models.ActionLike, 0, time.Now().Add(30*time.Second)),
	}
	svc := NewEngagementService(toggler, &stubQueue{}, limiter, &stubMirror{})

	_, err := svc.ToggleLike(context.Background(), ToggleLikeInput{Target: testTarget, User: testUser})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeRateLimited))
	// The store is never touched on a rejected request.
	assert.False(t, togglerCalled)
}

func TestEngagementService_ToggleLike_TransientQueuesOptimistically(t *testing.T) {
	toggler := &stubToggler{
		toggleFn: func(context.Context, models.TargetRef, models.UserInfo) (models.ToggleResult, error) {
			return models.ToggleResult{}, models.NewTransientError(errors.New("store down"))
		},
	}
	queue := &stubQueue{}
	mirror := &stubMirror{}
	svc := NewEngagementService(toggler, queue, &stubLimiter{}, mirror)
	ctx := context.Background()

	result, err := svc.ToggleLike(ctx, ToggleLikeInput{Target: testTarget, User: testUser})
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.True(t, result.Liked)

	require.Len(t, queue.enqueued, 1)
	assert.True(t, queue.enqueued[0].Desired)

	// The mirror now holds the optimistic state, so a second degraded toggle
	// derives the opposite intent.
	result, err = svc.ToggleLike(ctx, ToggleLikeInput{Target: testTarget, User: testUser})
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.False(t, result.Liked)
	require.Len(t, queue.enqueued, 2)
	assert.False(t, queue.enqueued[1].Desired)
}

func TestEngagementService_ToggleLike_NonTransientSurfaces(t *testing.T) {
	toggler := &stubToggler{
		toggleFn: func(context.Context, models.TargetRef, models.UserInfo) (models.ToggleResult, error) {
			return models.ToggleResult{}, models.NewTargetNotFoundError(testTarget)
		},
	}
	queue := &stubQueue{}
	svc := NewEngagementService(toggler, queue, &stubLimiter{}, &stubMirror{})

	_, err := svc.ToggleLike(context.Background(), ToggleLikeInput{Target: testTarget, User: testUser})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeTargetNotFound))
	assert.Empty(t, queue.enqueued)
}

func TestEngagementService_ToggleLike_Validation(t *testing.T) {
	svc := NewEngagementService(&stubToggler{}, &stubQueue{}, &stubLimiter{}, &stubMirror{})
	ctx := context.Background()

	_, err := svc.ToggleLike(ctx, ToggleLikeInput{
		Target: models.TargetRef{ContentType: models.ContentTypePost},
		User:   testUser,
	})
	assert.True(t, models.HasCode(err, models.CodeValidationError))

	_, err = svc.ToggleLike(ctx, ToggleLikeInput{
		Target: models.TargetRef{ContentID: "x", ContentType: "video"},
		User:   testUser,
	})
	assert.True(t, models.HasCode(err, models.CodeValidationError))

	_, err = svc.ToggleLike(ctx, ToggleLikeInput{Target: testTarget})
	assert.True(t, models.HasCode(err, models.CodeValidationError))
}

func TestEngagementService_GetEngagement(t *testing.T) {
	toggler := &stubToggler{
		engageFn: func(_ context.Context, target models.TargetRef, userID string) (models.Counters, bool, error) {
			return models.Counters{Likes: 12, Shares: 2}, userID == testUser.UserID, nil
		},
	}
	svc := NewEngagementService(toggler, &stubQueue{}, &stubLimiter{}, &stubMirror{})

	view, err := svc.GetEngagement(context.Background(), testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.Equal(t, testTarget, view.Target)
	assert.Equal(t, int64(12), view.Counters.Likes)
	assert.True(t, view.Liked)

	view, err = svc.GetEngagement(context.Background(), testTarget, "")
	require.NoError(t, err)
	assert.False(t, view.Liked)
}

func TestEngagementService_RecordAction_Share(t *testing.T) {
	shares := 0
	toggler := &stubToggler{
		shareFn: func(context.Context, models.TargetRef) (int64, error) {
			shares++
			return int64(shares), nil
		},
		engageFn: func(context.Context, models.TargetRef, string) (models.Counters, bool, error) {
			return models.Counters{Shares: int64(shares)}, false, nil
		},
	}
	limiter := &stubLimiter{}
	svc := NewEngagementService(toggler, &stubQueue{}, limiter, &stubMirror{})

	view, err := svc.RecordAction(context.Background(), RecordActionInput{
		Target: testTarget,
		UserID: testUser.UserID,
		Action: models.ActionShare,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Counters.Shares)
	assert.Equal(t, []models.ActionType{models.ActionShare}, limiter.allowed)
}

func TestEngagementService_RecordAction_SaveConsumesBudgetOnly(t *testing.T) {
	shareCalled := false
	toggler := &stubToggler{
		shareFn: func(context.Context, models.TargetRef) (int64, error) {
			shareCalled = true
			return 0, nil
		},
	}
	limiter := &stubLimiter{}
	svc := NewEngagementService(toggler, &stubQueue{}, limiter, &stubMirror{})

	_, err := svc.RecordAction(context.Background(), RecordActionInput{
		Target: testTarget,
		UserID: testUser.UserID,
		Action: models.ActionSave,
	})
	require.NoError(t, err)
	assert.False(t, shareCalled)
	assert.Equal(t, []models.ActionType{models.ActionSave}, limiter.allowed)
}

func TestEngagementService_RecordAction_RejectsLikeAndUnknown(t *testing.T) {
	svc := NewEngagementService(&stubToggler{}, &stubQueue{}, &stubLimiter{}, &stubMirror{})
	ctx := context.Background()

	_, err := svc.RecordAction(ctx, RecordActionInput{
		Target: testTarget, UserID: testUser.UserID, Action: models.ActionLike,
	})
	assert.True(t, models.HasCode(err, models.CodeValidationError))

	_, err = svc.RecordAction(ctx, RecordActionInput{
		Target: testTarget, UserID: testUser.UserID, Action: "boost",
	})
	assert.True(t, models.HasCode(err, models.CodeValidationError))
}

func TestEngagementService_LimitInfo(t *testing.T) {
	svc := NewEngagementService(&stubToggler{}, &stubQueue{}, &stubLimiter{}, &stubMirror{})

	info, err := svc.LimitInfo(context.Background(), models.ActionShare, testUser.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionShare, info.Action)

	_, err = svc.LimitInfo(context.Background(), "boost", testUser.UserID)
	assert.True(t, models.HasCode(err, models.CodeValidationError))
}

func TestEngagementService_DrainQueue(t *testing.T) {
	queue := &stubQueue{}
	svc := NewEngagementService(&stubToggler{}, queue, &stubLimiter{}, &stubMirror{})

	svc.DrainQueue(context.Background())
	assert.Equal(t, 1, queue.drained)
	assert.Equal(t, 0, svc.QueueDepth())
}
