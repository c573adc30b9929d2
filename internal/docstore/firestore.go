package docstore

import (
	"context"
	"fmt"
	"sync"

	"ripple/internal/models"

	"cloud.google.com/go/firestore"
)

// FirestoreStore implements Store on Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore-backed store. databaseID may be empty,
// in which case the default database is used.
func NewFirestoreStore(ctx context.Context, projectID, databaseID string) (*FirestoreStore, error) {
	if databaseID == "" {
		databaseID = "(default)"
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client for database %s: %w", databaseID, err)
	}

	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) ref(target models.TargetRef) *firestore.DocumentRef {
	return s.client.Collection(CollectionFor(target.ContentType)).Doc(target.ContentID)
}

type fsTx struct {
	tx  *firestore.Transaction
	ref *firestore.DocumentRef
}

func (t *fsTx) Get() (Snapshot, error) {
	snap, err := t.tx.Get(t.ref)
	if err != nil {
		if IsNotFound(err) {
			return Snapshot{Exists: false}, nil
		}
		return Snapshot{}, err
	}
	return Snapshot{Exists: snap.Exists(), Data: snap.Data()}, nil
}

func (t *fsTx) Set(data map[string]interface{}) error {
	return t.tx.Set(t.ref, data, firestore.MergeAll)
}

// RunTransaction runs fn against a snapshot read of the target document with
// an atomic conditional write.
func (s *FirestoreStore) RunTransaction(ctx context.Context, target models.TargetRef, fn func(tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return fn(&fsTx{tx: tx, ref: s.ref(target)})
	})
}

// Watch opens a snapshot listener on the target document and pumps changes
// until the returned cancel function is called or ctx is done.
func (s *FirestoreStore) Watch(ctx context.Context, target models.TargetRef, onNext func(Snapshot), onErr func(error)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	iter := s.ref(target).Snapshots(watchCtx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if watchCtx.Err() != nil {
					return // torn down, not an error
				}
				onErr(err)
				return
			}
			onNext(Snapshot{Exists: snap.Exists(), Data: snap.Data()})
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Close closes the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
