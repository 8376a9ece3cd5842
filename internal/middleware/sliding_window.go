package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set entry per accepted request, scored
// by its timestamp in milliseconds. Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
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
		retry_after = oldest[2] + window_ms - now
	end
	return {0, 0, retry_after}
`)

// SlidingWindow is a Limiter shared by every server instance through redis.
type SlidingWindow struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindow allows limit requests per key in any window-long interval.
func NewSlidingWindow(client redis.Scripter, prefix string, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *SlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	redisKey := l.prefix + key

	result, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey, redisKey + ":seq"},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit result length: %d", len(result))
	}

	d := Decision{Allowed: result[0] == 1, Remaining: int(result[1])}
	if !d.Allowed && result[2] > 0 {
		d.RetryAfter = time.Duration(result[2]) * time.Millisecond
	}
	return d, nil
}
