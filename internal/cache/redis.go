// Package cache holds the worker's Redis-backed coordination state: the sync
// lease that keeps two runs of the same class from overlapping and the
// result of each class's last run.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// LastRunTTL bounds how long a stale run status is reported
const LastRunTTL = 7 * 24 * time.Hour

// releaseScript deletes the lease only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis connection settings
type Config struct {
	Addr     string // host:port
	Password string
	DB       int
}

// RedisCache wraps a go-redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable
func (c *RedisCache) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// LockKey is the lease key for one sync class of a sport
func LockKey(sport, class string) string {
	return fmt.Sprintf("sync:lock:%s:%s", sport, class)
}

// LastRunKey is the key holding the last result of one sync class of a sport
func LastRunKey(sport, class string) string {
	return fmt.Sprintf("sync:last:%s:%s", sport, class)
}

// TryLock takes the lease at key for ttl. When another holder has it,
// acquired is false and err is nil. The returned unlock releases the lease
// only if it is still ours.
func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// The run's context may already be cancelled; release regardless
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := releaseScript.Run(rctx, c.client, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release sync lease")
		}
	}
	return unlock, true, nil
}

// SaveRun stores v as the last run at key
func (c *RedisCache) SaveRun(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal run status: %w", err)
	}
	if err := c.client.Set(ctx, key, data, LastRunTTL).Err(); err != nil {
		return fmt.Errorf("failed to save run status: %w", err)
	}
	return nil
}

// LoadRun decodes the last run at key into v. found is false when none is stored.
func (c *RedisCache) LoadRun(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load run status: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode run status: %w", err)
	}
	return true, nil
}
