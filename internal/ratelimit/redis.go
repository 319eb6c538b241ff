package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// slidingWindowScript runs prune-check-append atomically inside Redis.
// Scores are unix milliseconds; an entry aged exactly window is removed.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local entry = redis.call('ZRANGE', key, count - limit, count - limit, 'WITHSCORES')
	return {0, tonumber(entry[2]) + window - now}
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// Redis is a sliding window log shared by every instance pointing at the same
// Redis. It fails open: a Redis error admits the request.
type Redis struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.Scripter, prefix string) *Redis {
	if prefix == "" {
		prefix = "pulse:ratelimit"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) Admit(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: window}
	}

	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	res, err := slidingWindowScript.Run(ctx, r.client, []string{redisKey},
		r.now().UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Warn().Err(err).Str("key", key).Msg("redis admission failed, admitting")
		return Decision{Allowed: true}
	}
	if res[0] == 1 {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[1]) * time.Millisecond}
}
