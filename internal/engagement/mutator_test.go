package engagement

import (
	"context"
	"testing"

	"ripple/internal/docstore"
	"ripple/internal/localstore"
	"ripple/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	testTarget = models.TargetRef{ContentID: "post-1", ContentType: models.ContentTypePost}
	testUser   = models.UserInfo{UserID: "user-1", DisplayName: "Alice"}
)

func seedTarget(store *docstore.MemoryStore, likesCount int64, likedBy ...string) {
	likes := make([]interface{}, 0, len(likedBy))
	for _, uid := range likedBy {
		likes = append(likes, map[string]interface{}{"userId": uid, "displayName": uid})
	}
	store.Seed(testTarget, map[string]interface{}{
		"likes":      likes,
		"likesCount": likesCount,
	})
}

func TestMutator_ToggleLike_AddAndRemove(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedTarget(store, 0)
	m := NewMutator(store, nil)
	ctx := context.Background()

	result, err := m.ToggleLike(ctx, testTarget, testUser)
	require.NoError(t, err)
	assert.True(t, result.Liked)
	assert.Equal(t, int64(1), result.LikesCount)

	liked, err := m.IsLiked(ctx, testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.True(t, liked)

	result, err = m.ToggleLike(ctx, testTarget, testUser)
	require.NoError(t, err)
	assert.False(t, result.Liked)
	assert.Equal(t, int64(0), result.LikesCount)

	liked, err = m.IsLiked(ctx, testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestMutator_ToggleLike_SinglePairDespiteRepeats(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedTarget(store, 0)
	m := NewMutator(store, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.ToggleLike(ctx, testTarget, testUser)
		require.NoError(t, err)
	}

	// Even number of toggles lands back on unliked with the count intact.
	counters, liked, err := m.Engagement(ctx, testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), counters.Likes)
}

func TestMutator_ToggleLike_ClampsCounterAtZero(t *testing.T) {
	store := docstore.NewMemoryStore()
	// Counter already divergent from the like set: removing the only like
	// would drive it negative.
	seedTarget(store, 0, testUser.UserID)
	m := NewMutator(store, nil)

	result, err := m.ToggleLike(context.Background(), testTarget, testUser)
	require.NoError(t, err)
	assert.False(t, result.Liked)
	assert.Equal(t, int64(0), result.LikesCount)
}

func TestMutator_ToggleLike_TargetNotFound(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := NewMutator(store, nil)

	_, err := m.ToggleLike(context.Background(), testTarget, testUser)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeTargetNotFound))
}

func TestMutator_ToggleLike_ClassifiesTransient(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedTarget(store, 0)
	store.FailNextTransactions(1, status.Error(codes.Unavailable, "store down"))
	m := NewMutator(store, nil)

	_, err := m.ToggleLike(context.Background(), testTarget, testUser)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestMutator_ToggleLike_WritesMirror(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedTarget(store, 0)
	mirror, err := localstore.OpenInMemory()
	require.NoError(t, err)
	defer mirror.Close()

	m := NewMutator(store, mirror)
	ctx := context.Background()

	_, err = m.ToggleLike(ctx, testTarget, testUser)
	require.NoError(t, err)

	liked, found, err := mirror.GetLiked(ctx, testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, liked)

	_, err = m.ToggleLike(ctx, testTarget, testUser)
	require.NoError(t, err)

	liked, found, err = mirror.GetLiked(ctx, testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, liked)
}

func TestMutator_Engagement(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed(testTarget, map[string]interface{}{
		"likes": []interface{}{
			map[string]interface{}{"userId": testUser.UserID},
			map[string]interface{}{"userId": "user-2"},
		},
		"likesCount":    int64(2),
		"commentsCount": int64(5),
		"sharesCount":   int64(1),
	})
	m := NewMutator(store, nil)

	counters, liked, err := m.Engagement(context.Background(), testTarget, testUser.UserID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(2), counters.Likes)
	assert.Equal(t, int64(5), counters.Comments)
	assert.Equal(t, int64(1), counters.Shares)

	_, liked, err = m.Engagement(context.Background(), testTarget, "stranger")
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestMutator_RecordShare(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.Seed(testTarget, map[string]interface{}{"sharesCount": int64(3)})
	m := NewMutator(store, nil)

	count, err := m.RecordShare(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	count, err = m.RecordShare(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestMutator_RecordShare_TargetNotFound(t *testing.T) {
	store := docstore.NewMemoryStore()
	m := NewMutator(store, nil)

	_, err := m.RecordShare(context.Background(), testTarget)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeTargetNotFound))
}
