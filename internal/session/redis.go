package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey returns the Redis key for a session token.
func redisKey(token string) string {
	return "session:" + token
}

// RedisManager stores sessions as Redis keys with a native expiry, for
// deployments that already run Redis and want sessions shared across
// restarts without a SQL round trip per request.
type RedisManager struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisManager creates a session manager backed by client with the given TTL.
func NewRedisManager(client redis.Cmdable, ttl time.Duration) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisManager{client: client, ttl: ttl}
}

// Create stores a new token for userID with the manager's TTL.
func (m *RedisManager) Create(ctx context.Context, userID int64) (string, error) {
	token := generateToken()
	err := m.client.Set(ctx, redisKey(token), strconv.FormatInt(userID, 10), m.ttl).Err()
	if err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return token, nil
}

// Resolve returns the user id for a live token. Expiry is handled by Redis.
func (m *RedisManager) Resolve(ctx context.Context, token string) (int64, error) {
	val, err := m.client.Get(ctx, redisKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("session: resolve: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: corrupt value for token: %w", err)
	}
	return userID, nil
}

// Destroy deletes the token.
func (m *RedisManager) Destroy(ctx context.Context, token string) error {
	if err := m.client.Del(ctx, redisKey(token)).Err(); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}
