package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore reads tenant configuration documents from Redis. Every key
// is namespaced under the tenant id so one cluster serves many tenants.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithClient substitutes a pre-built client, used by tests.
func WithClient(rdb *redis.Client) RedisOption {
	return func(s *RedisStore) { s.rdb = rdb }
}

// NewRedisStore connects to the tenant's Redis using the fetched credentials.
func NewRedisStore(creds *Credentials, opts ...RedisOption) *RedisStore {
	s := &RedisStore{prefix: strings.Trim(creds.TenantID, ":")}
	for _, opt := range opts {
		opt(s)
	}
	if s.rdb == nil {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     creds.Addr,
			Password: creds.Password,
		})
	}
	return s
}

// Get fetches one tenant document. A missing key reports ok=false with a
// nil error so the caller can cache its fallback.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Ping verifies connectivity, used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }
