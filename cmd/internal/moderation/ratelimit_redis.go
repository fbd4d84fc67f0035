package moderation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// slidingWindowScript evicts old entries, counts, and records the event when under the limit.
// Returns 1 when allowed and 0 when limited.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  return 0
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisRateLimiter shares sliding windows across server instances.
type RedisRateLimiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisRateLimiterOption configures RedisRateLimiter.
type RedisRateLimiterOption func(*RedisRateLimiter)

// WithRateKeyPrefix namespaces keys, mainly for isolated tests.
func WithRateKeyPrefix(prefix string) RedisRateLimiterOption {
	return func(r *RedisRateLimiter) { r.prefix = prefix + rateLimitKeyPrefix }
}

func NewRedisRateLimiter(client redis.Scripter, limit int, window time.Duration, opts ...RedisRateLimiterOption) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	r := &RedisRateLimiter{
		client: client,
		prefix: rateLimitKeyPrefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisRateLimiter) Check(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, r.window.Milliseconds(), r.limit, fmt.Sprintf("%d:%s", now, randomSuffix()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("moderation: rate check: %w", err)
	}
	return res == 1, nil
}

// Prune is a no-op: keys carry their own expiry.
func (r *RedisRateLimiter) Prune(context.Context) (int, error) { return 0, nil }

func randomSuffix() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "0"
	}
	return hex.EncodeToString(b)
}
