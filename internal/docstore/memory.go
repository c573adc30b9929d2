package docstore

import (
	"context"
	"sync"

	"ripple/internal/models"
)

// MemoryStore is an in-process Store used by tests and local development.
// It honors the same transaction and watch semantics as the Firestore
// implementation and supports failure injection.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]interface{}
	watchers map[string]map[int]*memWatcher
	nextID   int

	failNext int
	failErr  error
}

type memWatcher struct {
	onNext func(Snapshot)
	onErr  func(error)
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]interface{}),
		watchers: make(map[string]map[int]*memWatcher),
	}
}

// Seed creates or replaces the target document outside any transaction.
func (s *MemoryStore) Seed(target models.TargetRef, data map[string]interface{}) {
	s.mu.Lock()
	s.docs[target.Key()] = copyDoc(data)
	watchers, snap := s.watchersAndSnapshotLocked(target)
	s.mu.Unlock()
	notify(watchers, snap)
}

// FailNextTransactions makes the next n transactions fail with err.
func (s *MemoryStore) FailNextTransactions(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

type memTx struct {
	store  *MemoryStore
	key    string
	staged map[string]interface{}
}

func (t *memTx) Get() (Snapshot, error) {
	doc, ok := t.store.docs[t.key]
	if !ok {
		return Snapshot{Exists: false}, nil
	}
	return Snapshot{Exists: true, Data: copyDoc(doc)}, nil
}

func (t *memTx) Set(data map[string]interface{}) error {
	if t.staged == nil {
		t.staged = make(map[string]interface{})
	}
	for k, v := range data {
		t.staged[k] = v
	}
	return nil
}

// RunTransaction runs fn under the store lock; staged writes are merged into
// the document only when fn returns nil.
func (s *MemoryStore) RunTransaction(_ context.Context, target models.TargetRef, fn func(tx Tx) error) error {
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		err := s.failErr
		s.mu.Unlock()
		return err
	}

	tx := &memTx{store: s, key: target.Key()}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	if tx.staged != nil {
		doc, ok := s.docs[tx.key]
		if !ok {
			doc = make(map[string]interface{})
			s.docs[tx.key] = doc
		}
		for k, v := range tx.staged {
			doc[k] = v
		}
	}
	watchers, snap := s.watchersAndSnapshotLocked(target)
	s.mu.Unlock()

	if tx.staged != nil {
		notify(watchers, snap)
	}
	return nil
}

// Watch registers a listener for the target. The current snapshot is
// delivered immediately, matching Firestore snapshot-listener behavior.
func (s *MemoryStore) Watch(_ context.Context, target models.TargetRef, onNext func(Snapshot), onErr func(error)) (func(), error) {
	s.mu.Lock()
	key := target.Key()
	id := s.nextID
	s.nextID++
	w := &memWatcher{onNext: onNext, onErr: onErr}
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]*memWatcher)
	}
	s.watchers[key][id] = w
	var initial Snapshot
	if doc, ok := s.docs[key]; ok {
		initial = Snapshot{Exists: true, Data: copyDoc(doc)}
	}
	s.mu.Unlock()

	onNext(initial)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if m, ok := s.watchers[key]; ok {
				if watcher, exists := m[id]; exists {
					watcher.closed = true
					delete(m, id)
				}
				if len(m) == 0 {
					delete(s.watchers, key)
				}
			}
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

// InjectWatchError delivers err to every active watcher of the target.
func (s *MemoryStore) InjectWatchError(target models.TargetRef, err error) {
	s.mu.Lock()
	var errFns []func(error)
	for _, w := range s.watchers[target.Key()] {
		if !w.closed && w.onErr != nil {
			errFns = append(errFns, w.onErr)
		}
	}
	s.mu.Unlock()
	for _, fn := range errFns {
		fn(err)
	}
}

// WatcherCount reports how many listeners are open for the target.
func (s *MemoryStore) WatcherCount(target models.TargetRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[target.Key()])
}

// Doc returns a copy of the target document, or nil if absent.
func (s *MemoryStore) Doc(target models.TargetRef) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[target.Key()]
	if !ok {
		return nil
	}
	return copyDoc(doc)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) watchersAndSnapshotLocked(target models.TargetRef) ([]func(Snapshot), Snapshot) {
	var fns []func(Snapshot)
	for _, w := range s.watchers[target.Key()] {
		if !w.closed {
			fns = append(fns, w.onNext)
		}
	}
	var snap Snapshot
	if doc, ok := s.docs[target.Key()]; ok {
		snap = Snapshot{Exists: true, Data: copyDoc(doc)}
	}
	return fns, snap
}

func notify(fns []func(Snapshot), snap Snapshot) {
	for _, fn := range fns {
		fn(snap)
	}
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if arr, ok := v.([]interface{}); ok {
			out[k] = append([]interface{}(nil), arr...)
			continue
		}
		out[k] = v
	}
	return out
}
