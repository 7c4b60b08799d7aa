package store

import (
	"context"
	"sync"

	"github.com/otiai10/mapsync/internal/presence"
)

// MemoryStore keeps the users mapping in process. Every watcher receives
// every snapshot, in write order.
type MemoryStore struct {
	mu       sync.Mutex
	users    presence.Users
	watchers map[*memoryWatcher]struct{}
	closed   chan struct{}
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    presence.Users{},
		watchers: make(map[*memoryWatcher]struct{}),
		closed:   make(chan struct{}),
	}
}

// Set replaces the record at uid and queues a snapshot for every watcher
func (m *MemoryStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}

	m.users[uid] = rec
	for w := range m.watchers {
		w.push(m.users.Copy())
	}
	return nil
}

// Users returns a copy of the current mapping
func (m *MemoryStore) Users(ctx context.Context) (presence.Users, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}
	return m.users.Copy(), nil
}

// Watch registers fn. The current mapping is queued under the same lock as
// writes, so no update between subscribe and the first call is lost.
func (m *MemoryStore) Watch(ctx context.Context, fn Handler) (*Subscription, error) {
	sub, wctx := newSubscription(ctx)
	w := &memoryWatcher{signal: make(chan struct{}, 1)}

	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		sub.cancel()
		return nil, ErrClosed
	}
	m.watchers[w] = struct{}{}
	w.push(m.users.Copy())
	m.mu.Unlock()

	go m.run(wctx, sub, w, fn)

	return sub, nil
}

func (m *MemoryStore) run(ctx context.Context, sub *Subscription, w *memoryWatcher, fn Handler) {
	defer func() {
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return
		case <-m.closed:
			sub.finish(ErrClosed)
			return
		case <-w.signal:
			for _, users := range w.drain() {
				if ctx.Err() != nil {
					break
				}
				fn(users)
			}
		}
	}
}

// Close stops every watcher. Further operations return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isClosed() {
		close(m.closed)
	}
	return nil
}

// isClosed must be called with m.mu held
func (m *MemoryStore) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// memoryWatcher is an unbounded FIFO of snapshots so a slow handler never
// blocks writers
type memoryWatcher struct {
	mu     sync.Mutex
	queue  []presence.Users
	signal chan struct{}
}

func (w *memoryWatcher) push(users presence.Users) {
	w.mu.Lock()
	w.queue = append(w.queue, users)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) drain() []presence.Users {
	w.mu.Lock()
	defer w.mu.Unlock()
	queued := w.queue
	w.queue = nil
	return queued
}
