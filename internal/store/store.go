// Package store provides the realtime key/value backends that hold the users
// mapping: Firebase Realtime Database, Cloud Firestore, Redis and an
// in-process map for tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/otiai10/mapsync/internal/presence"
)

// DefaultCollection is the top-level path that holds one record per uid
const DefaultCollection = "users"

// ErrClosed is returned by operations on a store that has been closed
var ErrClosed = errors.New("store closed")

// Handler receives the full users mapping. It is never passed nil.
type Handler func(users presence.Users)

// Store is a realtime key/value tree keyed by uid
type Store interface {
	// Set replaces the record at uid. Last writer wins.
	Set(ctx context.Context, uid string, rec presence.Record) error

	// Users returns the current mapping, empty when nothing was written yet
	Users(ctx context.Context) (presence.Users, error)

	// Watch calls fn with the current mapping and again after every change,
	// until ctx is cancelled or the subscription is stopped.
	// It returns an error when the initial snapshot cannot be obtained.
	Watch(ctx context.Context, fn Handler) (*Subscription, error)

	// Close releases any resources held by the store
	Close() error
}

// Subscription is the handle of a running Watch.
// Handler calls for one subscription never overlap.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// newSubscription derives the context the watch goroutine must observe
func newSubscription(parent context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// Unsubscribe stops the watch. It does not wait for the watch goroutine,
// so it is safe to call from inside the handler. Wait on Done for that.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

// Done is closed once the watch goroutine has returned
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended. It is nil while the subscription is
// running and after a regular Unsubscribe or context cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish records the terminal error and releases waiters. Errors are tagged
// with presence.ErrSubscription.
func (s *Subscription) finish(err error) {
	if err != nil && !errors.Is(err, presence.ErrSubscription) {
		err = fmt.Errorf("%w: %w", presence.ErrSubscription, err)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.cancel()
	close(s.done)
}
