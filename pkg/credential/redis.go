package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the fields of one session in Redis.
type RedisStore struct {
	redis   *redis.Client
	session string
}

// NewRedisStore creates a store for session. Keys are namespaced as
// dataaccess:credential:<session>:<field>.
func NewRedisStore(redisClient *redis.Client, session string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, session: session}
}

func (s *RedisStore) key(field string) string {
	return fmt.Sprintf("dataaccess:credential:%s:%s", s.session, field)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			storeOps.WithLabelValues("redis", "get", "miss").Inc()
			return "", ErrNotFound
		}
		storeOps.WithLabelValues("redis", "get", "error").Inc()
		return "", fmt.Errorf("redis get: %w", err)
	}
	storeOps.WithLabelValues("redis", "get", "hit").Inc()
	return v, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, opts SetOptions) error {
	if err := s.redis.Set(ctx, s.key(key), value, opts.TTL).Err(); err != nil {
		storeOps.WithLabelValues("redis", "set", "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	storeOps.WithLabelValues("redis", "set", "ok").Inc()
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		storeOps.WithLabelValues("redis", "delete", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	storeOps.WithLabelValues("redis", "delete", "ok").Inc()
	return nil
}
