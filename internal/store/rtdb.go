package store

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/presence"
)

const (
	// DefaultPollInterval is how often a Realtime Database watch asks for changes
	DefaultPollInterval = 1 * time.Second

	// maxRetries is the number of consecutive poll failures before a watch gives up
	maxRetries = 10

	// initialRetryDelay is the starting delay for exponential backoff
	initialRetryDelay = 1 * time.Second

	// maxRetryDelay is the maximum delay between retries
	maxRetryDelay = 60 * time.Second
)

// rtdbNode is the part of a Realtime Database reference the store uses.
// *db.Ref satisfies it through dbNode.
type rtdbNode interface {
	SetChild(ctx context.Context, key string, v interface{}) error
	GetWithETag(ctx context.Context, v interface{}) (string, error)
	GetIfChanged(ctx context.Context, etag string, v interface{}) (bool, string, error)
}

type dbNode struct {
	ref *db.Ref
}

func (n dbNode) SetChild(ctx context.Context, key string, v interface{}) error {
	return n.ref.Child(key).Set(ctx, v)
}

func (n dbNode) GetWithETag(ctx context.Context, v interface{}) (string, error) {
	return n.ref.GetWithETag(ctx, v)
}

func (n dbNode) GetIfChanged(ctx context.Context, etag string, v interface{}) (bool, string, error) {
	return n.ref.GetIfChanged(ctx, etag, v)
}

// RTDBConfig holds configuration for RTDBStore
type RTDBConfig struct {
	Path         string        // Top-level path (optional, defaults to "users")
	PollInterval time.Duration // Watch poll interval (optional, defaults to 1s)
	Logger       *zap.Logger   // optional
}

// RTDBStore stores presence records in the Firebase Realtime Database.
//
// The Admin SDK has no streaming listener, so Watch polls the collection
// with conditional requests and only calls the handler when the ETag moves.
type RTDBStore struct {
	node         rtdbNode
	path         string
	pollInterval time.Duration
	logger       *zap.Logger

	// retry timing, replaced in tests
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Ensure RTDBStore implements Store interface
var _ Store = (*RTDBStore)(nil)

// NewRTDBStore creates a store on top of a Realtime Database client
func NewRTDBStore(client *db.Client, cfg RTDBConfig) *RTDBStore {
	cfg = cfg.withDefaults()
	return newRTDBStore(dbNode{ref: client.NewRef(cfg.Path)}, cfg)
}

func newRTDBStore(node rtdbNode, cfg RTDBConfig) *RTDBStore {
	cfg = cfg.withDefaults()
	return &RTDBStore{
		node:         node,
		path:         cfg.Path,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		initialDelay: initialRetryDelay,
		maxDelay:     maxRetryDelay,
	}
}

func (c RTDBConfig) withDefaults() RTDBConfig {
	if c.Path == "" {
		c.Path = DefaultCollection
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Set overwrites <path>/<uid>
func (s *RTDBStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	if err := s.node.SetChild(ctx, uid, rec); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", s.path, uid, err)
	}
	return nil
}

// Users reads the whole collection
func (s *RTDBStore) Users(ctx context.Context) (presence.Users, error) {
	users, _, err := s.get(ctx)
	return users, err
}

func (s *RTDBStore) get(ctx context.Context) (presence.Users, string, error) {
	var users presence.Users
	etag, err := s.node.GetWithETag(ctx, &users)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get %s: %w", s.path, err)
	}
	return users.Copy(), etag, nil
}

// Watch reads the collection once, then polls for changes every
// pollInterval. Poll failures are retried with exponential backoff; after
// maxRetries consecutive failures the subscription ends with an error.
func (s *RTDBStore) Watch(ctx context.Context, fn Handler) (*Subscription, error) {
	users, etag, err := s.get(ctx)
	if err != nil {
		return nil, err
	}

	sub, wctx := newSubscription(ctx)
	go s.poll(wctx, sub, etag, users, fn)
	return sub, nil
}

func (s *RTDBStore) poll(ctx context.Context, sub *Subscription, etag string, initial presence.Users, fn Handler) {
	if ctx.Err() == nil {
		fn(initial)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	failures := 0
	delay := s.initialDelay

	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return
		case <-ticker.C:
		}

		var users presence.Users
		changed, newETag, err := s.node.GetIfChanged(ctx, etag, &users)
		if err != nil {
			if ctx.Err() != nil {
				sub.finish(nil)
				return
			}

			failures++
			s.logger.Warn("Realtime Database poll failed",
				zap.String("path", s.path),
				zap.Int("attempt", failures),
				zap.Int("maxRetries", maxRetries),
				zap.Error(err))
			if failures >= maxRetries {
				sub.finish(fmt.Errorf("failed to poll %s after %d attempts: %w", s.path, failures, err))
				return
			}

			select {
			case <-ctx.Done():
				sub.finish(nil)
				return
			case <-time.After(delay):
				// Exponential backoff with cap
				delay *= 2
				if delay > s.maxDelay {
					delay = s.maxDelay
				}
			}
			continue
		}

		failures = 0
		delay = s.initialDelay

		if !changed {
			continue
		}
		etag = newETag
		fn(users.Copy())
	}
}

// Close is a no-op; the Firebase app owns the underlying HTTP client
func (s *RTDBStore) Close() error {
	return nil
}
