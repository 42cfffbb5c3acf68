package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] window key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisStore shares windows between replicas through one sorted set per key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "onramp:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return res == 1, nil
}
