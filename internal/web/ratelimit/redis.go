package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the key to the window, then records the request when
// under the limit. It returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local current = redis.call('ZCARD', key)
local allowed = 0
if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	current = current + 1
	allowed = 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
	oldest_score = tonumber(oldest[2])
end
return {allowed, current, oldest_score}
`)

// RedisLimiter is a sliding window limiter shared by every instance using the same Redis
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	owned  bool
}

// RedisConfig configures a RedisLimiter
type RedisConfig struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Prefix string
	// OwnsClient makes Close close the client
	OwnsClient bool
}

// NewRedisLimiter creates a Redis limiter
func NewRedisLimiter(config RedisConfig) (*RedisLimiter, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	if config.Prefix == "" {
		config.Prefix = "ratelimit:"
	}

	return &RedisLimiter{
		client: config.Client,
		limit:  config.Limit,
		window: config.Window,
		prefix: config.Prefix,
		owned:  config.OwnsClient,
	}, nil
}

// Allow records a request of key when the window has room for it
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Info, error) {
	now := time.Now()
	nowMicro := now.UnixMicro()

	res, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		nowMicro,
		now.Add(-r.window).UnixMicro(),
		r.limit,
		r.window.Milliseconds(),
		fmt.Sprintf("%d-%d", nowMicro, now.Nanosecond()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected redis script result: %v", res)
	}

	remaining := r.limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return &Info{
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   time.UnixMicro(res[2]).Add(r.window),
		Allowed:   res[0] == 1,
	}, nil
}

// Reset removes the recorded requests of key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Count returns the requests of key inside the current window
func (r *RedisLimiter) Count(ctx context.Context, key string) (int, error) {
	windowStart := time.Now().Add(-r.window).UnixMicro()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, r.prefix+key, "0", fmt.Sprint(windowStart))
	count := pipe.ZCard(ctx, r.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get count: %w", err)
	}
	return int(count.Val()), nil
}

// Close closes the client when the limiter owns it
func (r *RedisLimiter) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
