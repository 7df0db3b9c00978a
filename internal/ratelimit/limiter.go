// Package ratelimit bounds how often a client may hit sensitive endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	RequestsPerWindow int
	Window            time.Duration
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// slidingWindow trims entries older than the window, then admits the request
// only when fewer than limit entries remain. Returns {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < limit then
		local seq = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. seq)
		redis.call('PEXPIRE', key, window_ms)
		redis.call('PEXPIRE', counter_key, window_ms)
		return {1, limit - count - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_after = 0
	if #oldest >= 2 then
		retry_after = tonumber(oldest[2]) + window_ms - now
	end
	return {0, 0, retry_after}
`)

type RedisLimiter struct {
	client redis.Scripter
	config Config
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, config Config, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	const op = "ratelimit.RedisLimiter.Allow"

	now := l.now()
	redisKey := l.prefix + key

	raw, err := slidingWindow.Run(ctx, l.client, []string{redisKey, redisKey + ":seq"},
		now.UnixMilli(),
		now.Add(-l.config.Window).UnixMilli(),
		l.config.RequestsPerWindow,
		l.config.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("%s: unexpected script reply length %d", op, len(raw))
	}

	res := Result{
		Allowed:   raw[0] == 1,
		Limit:     l.config.RequestsPerWindow,
		Remaining: int(raw[1]),
		ResetAt:   now.Add(l.config.Window),
	}
	if !res.Allowed && raw[2] > 0 {
		res.RetryAfter = time.Duration(raw[2]) * time.Millisecond
		res.ResetAt = now.Add(res.RetryAfter)
	}

	return res, nil
}
