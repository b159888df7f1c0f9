package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the key's sorted set to the window, admits the
// request if there is room, and returns {allowed, count, oldest score}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_start = ARGV[1]
	local now = ARGV[2]
	local rate = tonumber(ARGV[3])
	local member = ARGV[4]
	local window_ms = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < rate then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end

	redis.call('PEXPIRE', key, window_ms)

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldest_score = now
	if oldest[2] then
		oldest_score = oldest[2]
	end

	return {allowed, count, oldest_score}
`)

// RedisLimiter is a Redis-backed sliding window rate limiter, shared by
// every broker instance pointed at the same Redis.
type RedisLimiter struct {
	client    redis.Cmdable
	keyPrefix string
	rate      int
	window    time.Duration
	now       func() time.Time
}

// RedisConfig holds Redis rate limiter configuration.
type RedisConfig struct {
	// Client is the Redis client to use.
	Client redis.Cmdable

	// KeyPrefix is the prefix for all rate limit keys.
	// Defaults to "ratelimit:".
	KeyPrefix string

	// Rate is the number of requests allowed per window.
	Rate int

	// Window is the time window for the rate limit.
	Window time.Duration
}

// NewRedisLimiter creates a new Redis-backed rate limiter.
func NewRedisLimiter(cfg *RedisConfig) *RedisLimiter {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}

	return &RedisLimiter{
		client:    cfg.Client,
		keyPrefix: keyPrefix,
		rate:      cfg.Rate,
		window:    cfg.Window,
		now:       time.Now,
	}
}

// Allow records one request for key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	nowMicro := now.UnixMicro()
	windowStart := now.Add(-r.window).UnixMicro()

	vals, err := slidingWindowScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		windowStart,
		nowMicro,
		r.rate,
		strconv.FormatInt(nowMicro, 10)+":"+uuid.NewString(),
		r.window.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("redis rate limit script returned %d values", len(vals))
	}

	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldestStr, _ := vals[2].(string)
	oldest, err := strconv.ParseFloat(oldestStr, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse oldest score: %w", err)
	}

	return Result{
		Allowed:   allowed == 1,
		Limit:     r.rate,
		Remaining: max(r.rate-int(count), 0),
		ResetAt:   time.UnixMicro(int64(oldest)).Add(r.window),
	}, nil
}

// Reset resets the rate limit for the given key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Close is a no-op; the client is managed by its owner.
func (r *RedisLimiter) Close() error {
	return nil
}
