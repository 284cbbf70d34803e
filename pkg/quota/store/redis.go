package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	gqcontext "github.com/vnykmshr/goquota/pkg/common/context"
	"github.com/vnykmshr/goquota/pkg/common/validation"
)

// RedisConfig holds configuration for a Redis store.
type RedisConfig struct {
	// Client is the Redis connection. It is not closed by the store.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every key.
	KeyPrefix string

	// Timeout bounds each Redis round trip. Zero means DefaultRedisTimeout;
	// a negative value uses the caller's context as is.
	Timeout time.Duration
}

// DefaultRedisTimeout bounds Redis operations when RedisConfig.Timeout is unset.
const DefaultRedisTimeout = 500 * time.Millisecond

// Redis is a Store backed by Redis. Values are JSON encoded and expire
// through native key TTLs, so any number of instances can share it.
type Redis[V any] struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedis creates a Redis store.
func NewRedis[V any](config RedisConfig) (*Redis[V], error) {
	if config.Client == nil {
		return nil, validation.ValidateNotNil("store", "redis_client", nil)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRedisTimeout
	}
	return &Redis[V]{
		client:  config.Client,
		prefix:  config.KeyPrefix,
		timeout: config.Timeout,
	}, nil
}

func (s *Redis[V]) key(k string) string {
	return s.prefix + k
}

func (s *Redis[V]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return gqcontext.WithOptionalTimeout(ctx, s.timeout)
}

// Get fetches and decodes the value for key.
func (s *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value V
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, &RedisError{Operation: "get", Key: key, Err: err}
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, &DecodeError{Key: key, Err: err}
	}
	return value, true, nil
}

// Set encodes value and stores it with ttl.
func (s *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return &RedisError{Operation: "set", Key: key, Err: err}
	}
	return nil
}

// Exists reports whether key is present.
func (s *Redis[V]) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, &RedisError{Operation: "exists", Key: key, Err: err}
	}
	return n > 0, nil
}

// Remove deletes key.
func (s *Redis[V]) Remove(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return &RedisError{Operation: "del", Key: key, Err: err}
	}
	return nil
}
