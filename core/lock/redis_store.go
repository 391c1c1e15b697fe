package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fencelock/fencelock/core/infra/redisutil"
)

// RedisStore implements Store against a single Redis instance. TryCreate
// maps to SET NX PX; the conditional primitives run as Lua scripts so the
// compare and the mutation happen in one step on the server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed coordination store.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) TryCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redis store unavailable")
	}
	if key == "" || value == "" {
		return false, fmt.Errorf("key and value required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redis store unavailable")
	}
	if key == "" || expected == "" {
		return false, fmt.Errorf("key and expected value required")
	}
	res, err := s.client.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *RedisStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redis store unavailable")
	}
	if key == "" || expected == "" {
		return false, fmt.Errorf("key and expected value required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}
	res, err := s.client.Eval(ctx, compareAndExtendScript, []string{key}, expected, ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *RedisStore) AtomicIncrement(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("redis store unavailable")
	}
	if key == "" {
		return 0, fmt.Errorf("key required")
	}
	return s.client.Incr(ctx, key).Result()
}

const compareAndDeleteScript = `
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const compareAndExtendScript = `
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
