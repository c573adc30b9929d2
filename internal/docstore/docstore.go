// Package docstore abstracts the managed document database that owns
// engagement state. The production implementation is Cloud Firestore; an
// in-memory implementation backs tests and local development.
package docstore

import (
	"context"
	"errors"

	"ripple/internal/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when a target document does not exist.
var ErrNotFound = errors.New("document not found")

// Snapshot is a point-in-time read of one target document.
type Snapshot struct {
	Exists bool
	Data   map[string]interface{}
}

// Tx exposes the read and conditional-write operations available inside a
// transaction. Writes are merged into the document and commit atomically
// with the snapshot read, or not at all.
type Tx interface {
	Get() (Snapshot, error)
	Set(data map[string]interface{}) error
}

// Store is the document-store client contract. All methods may fail with a
// transient, availability-class error; callers classify with IsTransient.
type Store interface {
	// RunTransaction runs fn against a snapshot read of the target document
	// with an atomic conditional write. No partial updates are observable
	// by concurrent readers.
	RunTransaction(ctx context.Context, target models.TargetRef, fn func(tx Tx) error) error

	// Watch opens a server-push subscription on the target document. onNext
	// receives every server-observed change (including the initial state);
	// onErr is invoked on listener failure and the watch does not auto-retry.
	// The returned function tears down the subscription; it is safe to call
	// more than once.
	Watch(ctx context.Context, target models.TargetRef, onNext func(Snapshot), onErr func(error)) (func(), error)

	Close() error
}

// IsNotFound reports whether err means the target document does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return status.Code(err) == codes.NotFound
}

// IsTransient classifies network/availability/timeout-class failures as
// retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// CollectionFor maps a content type to its top-level collection name.
func CollectionFor(t models.ContentType) string {
	switch t {
	case models.ContentTypeMoment:
		return "moments"
	case models.ContentTypeStory:
		return "stories"
	default:
		return "posts"
	}
}
