package models

import (
	"fmt"
	"strings"
	"time"
)

// ContentType identifies the kind of content an engagement target refers to.
type ContentType string

const (
	ContentTypePost   ContentType = "post"
	ContentTypeMoment ContentType = "moment"
	ContentTypeStory  ContentType = "story"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypePost, ContentTypeMoment, ContentTypeStory:
		return true
	}
	return false
}

// TargetRef names the document whose engagement is tracked. The identity is
// immutable; its lifecycle is tied to the underlying content.
type TargetRef struct {
	ContentID   string      `json:"content_id"`
	ContentType ContentType `json:"content_type"`
}

// Key returns the canonical string form used for map keys, cache keys and
// pub/sub channels.
func (t TargetRef) Key() string {
	return fmt.Sprintf("%s:%s", t.ContentType, t.ContentID)
}

// ParseTargetKey inverts TargetRef.Key.
func ParseTargetKey(key string) (TargetRef, error) {
	typ, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return TargetRef{}, fmt.Errorf("malformed target key %q", key)
	}
	ref := TargetRef{ContentID: id, ContentType: ContentType(typ)}
	if !ref.ContentType.Valid() {
		return TargetRef{}, fmt.Errorf("unknown content type in target key %q", key)
	}
	return ref, nil
}

// UserInfo is the denormalized author snapshot stored alongside a like.
type UserInfo struct {
	UserID      string `json:"user_id" firestore:"userId"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	PhotoURL    string `json:"photo_url,omitempty" firestore:"photoURL"`
}

// LikeRecord is one member of a target's like set. At most one record exists
// per (target, userID) pair at any time.
type LikeRecord struct {
	UserID      string    `json:"user_id" firestore:"userId"`
	DisplayName string    `json:"display_name" firestore:"displayName"`
	PhotoURL    string    `json:"photo_url,omitempty" firestore:"photoURL"`
	Timestamp   time.Time `json:"timestamp" firestore:"timestamp"`
}

// Counters are the denormalized engagement counts for one target. They must
// never go negative; transient divergence from the underlying record sets is
// tolerated and reconciled by the real-time layer.
type Counters struct {
	Likes    int64 `json:"likes_count" firestore:"likesCount"`
	Comments int64 `json:"comments_count" firestore:"commentsCount"`
	Shares   int64 `json:"shares_count" firestore:"sharesCount"`
	Views    int64 `json:"views_count" firestore:"viewsCount"`
}

// Clamp zeroes any negative count in place.
func (c *Counters) Clamp() {
	if c.Likes < 0 {
		c.Likes = 0
	}
	if c.Comments < 0 {
		c.Comments = 0
	}
	if c.Shares < 0 {
		c.Shares = 0
	}
	if c.Views < 0 {
		c.Views = 0
	}
}

// ActionType is a rate-limited interaction category.
type ActionType string

const (
	ActionLike   ActionType = "like"
	ActionShare  ActionType = "share"
	ActionSave   ActionType = "save"
	ActionReport ActionType = "report"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionLike, ActionShare, ActionSave, ActionReport:
		return true
	}
	return false
}

// ToggleResult is the outcome of a like toggle.
type ToggleResult struct {
	Liked      bool  `json:"liked"`
	LikesCount int64 `json:"likes_count"`
	// Queued is true when the toggle could not reach the store and was
	// accepted for background delivery instead.
	Queued bool `json:"queued,omitempty"`
}

// QueuedOperation is a pending like/unlike intent awaiting delivery. Exactly
// one may exist per (target, user) pair; a newer intent supersedes it.
type QueuedOperation struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	ContentID  string    `json:"content_id" gorm:"uniqueIndex:idx_target_user;not null"`
	ContentTyp string    `json:"content_type" gorm:"column:content_type;uniqueIndex:idx_target_user;not null"`
	UserID     string    `json:"user_id" gorm:"uniqueIndex:idx_target_user;not null"`
	Desired    bool      `json:"desired"` // intent captured at enqueue time: true=like
	Display    string    `json:"display_name"`
	PhotoURL   string    `json:"photo_url"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// Target reconstructs the TargetRef for this operation.
func (op QueuedOperation) Target() TargetRef {
	return TargetRef{ContentID: op.ContentID, ContentType: ContentType(op.ContentTyp)}
}

// User reconstructs the UserInfo captured at enqueue time.
func (op QueuedOperation) User() UserInfo {
	return UserInfo{UserID: op.UserID, DisplayName: op.Display, PhotoURL: op.PhotoURL}
}

// EngagementUpdate is the normalized, debounced view of one target's
// engagement pushed to subscribers.
type EngagementUpdate struct {
	Target   TargetRef `json:"target"`
	Counters Counters  `json:"counters"`
	// Err is set when the underlying watch failed; previously delivered
	// counters remain valid (stale-but-present beats empty).
	Err string `json:"error,omitempty"`
}
