package localstore

import (
	"context"
	"testing"
	"time"

	"ripple/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	target = models.TargetRef{ContentID: "post-1", ContentType: models.ContentTypePost}
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_MirrorRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, found, err := s.GetLiked(ctx, target, "user-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetLiked(ctx, target, "user-1", true))

	liked, found, err := s.GetLiked(ctx, target, "user-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, liked)
}

func TestStore_MirrorLastWriterWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLiked(ctx, target, "user-1", true))
	require.NoError(t, s.SetLiked(ctx, target, "user-1", false))

	liked, found, err := s.GetLiked(ctx, target, "user-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, liked)
}

func TestStore_MirrorKeyedPerPair(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	other := models.TargetRef{ContentID: "post-2", ContentType: models.ContentTypePost}

	require.NoError(t, s.SetLiked(ctx, target, "user-1", true))
	require.NoError(t, s.SetLiked(ctx, other, "user-1", false))
	require.NoError(t, s.SetLiked(ctx, target, "user-2", false))

	liked, _, err := s.GetLiked(ctx, target, "user-1")
	require.NoError(t, err)
	assert.True(t, liked)

	liked, _, err = s.GetLiked(ctx, other, "user-1")
	require.NoError(t, err)
	assert.False(t, liked)

	liked, _, err = s.GetLiked(ctx, target, "user-2")
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestStore_MirrorDistinguishesContentTypes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// Same content ID, different content types. A moment write must not
	// clobber the post's row.
	post := models.TargetRef{ContentID: "x-1", ContentType: models.ContentTypePost}
	moment := models.TargetRef{ContentID: "x-1", ContentType: models.ContentTypeMoment}

	require.NoError(t, s.SetLiked(ctx, post, "user-1", true))
	require.NoError(t, s.SetLiked(ctx, moment, "user-1", false))

	liked, found, err := s.GetLiked(ctx, post, "user-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, liked)

	liked, found, err = s.GetLiked(ctx, moment, "user-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, liked)

	story := models.TargetRef{ContentID: "x-1", ContentType: models.ContentTypeStory}
	_, found, err = s.GetLiked(ctx, story, "user-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_QueueRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	ops := []models.QueuedOperation{
		{
			ID:         "op-2",
			ContentID:  "post-2",
			ContentTyp: string(models.ContentTypeMoment),
			UserID:     "user-1",
			Desired:    false,
			EnqueuedAt: base.Add(time.Second),
			RetryCount: 2,
		},
		{
			ID:         "op-1",
			ContentID:  "post-1",
			ContentTyp: string(models.ContentTypePost),
			UserID:     "user-1",
			Desired:    true,
			Display:    "Alice",
			EnqueuedAt: base,
		},
	}
	require.NoError(t, s.SaveQueue(ctx, ops))

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Enqueue order, not insert order.
	assert.Equal(t, "op-1", loaded[0].ID)
	assert.Equal(t, "op-2", loaded[1].ID)
	assert.True(t, loaded[0].Desired)
	assert.Equal(t, 2, loaded[1].RetryCount)
	assert.Equal(t, models.ContentTypeMoment, loaded[1].Target().ContentType)
}

func TestStore_SaveQueueReplacesSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := []models.QueuedOperation{{ID: "op-1", ContentID: "post-1", UserID: "user-1"}}
	require.NoError(t, s.SaveQueue(ctx, first))

	second := []models.QueuedOperation{{ID: "op-2", ContentID: "post-2", UserID: "user-1"}}
	require.NoError(t, s.SaveQueue(ctx, second))

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "op-2", loaded[0].ID)

	require.NoError(t, s.SaveQueue(ctx, nil))
	loaded, err = s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_SaveQueueKeepsSameContentIDAcrossTypes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// Two pending intents for the same user and content ID but different
	// content types are distinct pairs and must both persist.
	ops := []models.QueuedOperation{
		{ID: "op-1", ContentID: "x-1", ContentTyp: string(models.ContentTypePost), UserID: "user-1", EnqueuedAt: time.Now()},
		{ID: "op-2", ContentID: "x-1", ContentTyp: string(models.ContentTypeMoment), UserID: "user-1", EnqueuedAt: time.Now().Add(time.Second)},
	}
	require.NoError(t, s.SaveQueue(ctx, ops))

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, models.ContentTypePost, loaded[0].Target().ContentType)
	assert.Equal(t, models.ContentTypeMoment, loaded[1].Target().ContentType)
}

func TestStore_ClearQueue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveQueue(ctx, []models.QueuedOperation{
		{ID: "op-1", ContentID: "post-1", UserID: "user-1"},
	}))
	require.NoError(t, s.ClearQueue(ctx))

	loaded, err := s.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
