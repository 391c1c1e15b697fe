package fence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fencelock/fencelock/core/infra/metrics"
	"github.com/fencelock/fencelock/core/infra/redisutil"
)

// RedisResource implements Resource on a Redis instance. The compare
// against the high-water mark and the write of value plus mark run inside
// one Lua script, so the mark can never drift from the data it guards.
//
// This must be the instance that owns the protected data, not one of the
// coordination stores; the mark shares the data's durability boundary.
type RedisResource struct {
	client  *redis.Client
	metrics metrics.LockMetrics
}

// NewRedisResource constructs a Redis-backed guarded resource.
func NewRedisResource(url string, m metrics.LockMetrics) (*RedisResource, error) {
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
	if m == nil {
		m = metrics.Noop{}
	}
	return &RedisResource{client: client, metrics: m}, nil
}

// NewRedisResourceFromClient wraps an existing client, mainly for tests.
func NewRedisResourceFromClient(client *redis.Client, m metrics.LockMetrics) *RedisResource {
	if m == nil {
		m = metrics.Noop{}
	}
	return &RedisResource{client: client, metrics: m}
}

// Close shuts down the Redis client.
func (r *RedisResource) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisResource) ValidateAndCommit(ctx context.Context, resourceID string, token uint64, mutation Mutation) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("guarded resource unavailable")
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return false, fmt.Errorf("resource required")
	}
	res, err := r.client.Eval(ctx, validateAndCommitScript,
		[]string{hwmKey(resourceID), dataKey(resourceID)},
		token, string(mutation),
	).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	if n != 1 {
		r.metrics.IncStaleRejected()
		return false, ErrStaleTokenRejected
	}
	return true, nil
}

func (r *RedisResource) Get(ctx context.Context, resourceID string) (Mutation, uint64, error) {
	if r == nil || r.client == nil {
		return nil, 0, fmt.Errorf("guarded resource unavailable")
	}
	vals, err := r.client.MGet(ctx, dataKey(resourceID), hwmKey(resourceID)).Result()
	if err != nil {
		return nil, 0, err
	}
	var value Mutation
	if s, ok := vals[0].(string); ok {
		value = Mutation(s)
	}
	var token uint64
	if s, ok := vals[1].(string); ok {
		if _, err := fmt.Sscanf(s, "%d", &token); err != nil {
			return nil, 0, fmt.Errorf("parse high-water mark: %w", err)
		}
	}
	return value, token, nil
}

func hwmKey(resource string) string {
	return "hwm:" + resource
}

func dataKey(resource string) string {
	return "data:" + resource
}

const validateAndCommitScript = `
local hwm = redis.call("GET", KEYS[1])
local token = tonumber(ARGV[1])
if hwm and token < tonumber(hwm) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
return 1
`
