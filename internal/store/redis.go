package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/presence"
)

// RedisConfig holds configuration for RedisStore
type RedisConfig struct {
	URL    string      // redis:// URL (required)
	Key    string      // Hash key (optional, defaults to "users")
	Logger *zap.Logger // optional
}

// RedisStore keeps the users mapping in a Redis hash (field uid, JSON value)
// and announces every write on the "<key>:changed" pub/sub channel
type RedisStore struct {
	client  *redis.Client
	key     string
	channel string
	logger  *zap.Logger
}

// Ensure RedisStore implements Store interface
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with PING
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, cfg.Key)
	if cfg.Logger != nil {
		s.logger = cfg.Logger
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultCollection
	}
	return &RedisStore{
		client:  client,
		key:     key,
		channel: changeChannel(key),
		logger:  zap.NewNop(),
	}
}

func changeChannel(key string) string {
	return key + ":changed"
}

// Set writes the record and publishes the uid in one MULTI/EXEC block
func (s *RedisStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, uid, data)
		pipe.Publish(ctx, s.channel, uid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", s.key, uid, err)
	}
	return nil
}

// Users reads the whole hash
func (s *RedisStore) Users(ctx context.Context) (presence.Users, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.key, err)
	}
	return decodeUsers(fields, s.logger), nil
}

// Watch subscribes to the change channel before reading the initial
// snapshot, so a write landing in between is seen as a change notification.
func (s *RedisStore) Watch(ctx context.Context, fn Handler) (*Subscription, error) {
	sub, wctx := newSubscription(ctx)

	pubsub := s.client.Subscribe(wctx, s.channel)
	if _, err := pubsub.Receive(wctx); err != nil {
		_ = pubsub.Close()
		sub.cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	initial, err := s.Users(wctx)
	if err != nil {
		_ = pubsub.Close()
		sub.cancel()
		return nil, err
	}

	go func() {
		defer pubsub.Close()

		if wctx.Err() == nil {
			fn(initial)
		}

		messages := pubsub.Channel()
		for {
			select {
			case <-wctx.Done():
				sub.finish(nil)
				return
			case _, ok := <-messages:
				if !ok {
					sub.finish(errors.New("redis subscription channel closed"))
					return
				}
				users, err := s.Users(wctx)
				if err != nil {
					if wctx.Err() != nil {
						sub.finish(nil)
					} else {
						sub.finish(err)
					}
					return
				}
				fn(users)
			}
		}
	}()

	return sub, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeRecord(rec presence.Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(data), nil
}

// decodeUsers skips fields that do not hold a JSON record
func decodeUsers(fields map[string]string, logger *zap.Logger) presence.Users {
	users := make(presence.Users, len(fields))
	for uid, raw := range fields {
		var rec presence.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.Warn("skipping undecodable presence record", zap.String("uid", uid), zap.Error(err))
			continue
		}
		users[uid] = rec
	}
	return users
}
