package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFixedWindowLimiter fixed-window counts shared through Redis, so every
// instance draws from the same quota. Falls back to an in-memory limiter when
// Redis is unavailable.
type RedisFixedWindowLimiter struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
	now       func() time.Time
	fallback  *FixedWindowLimiter
	timeout   time.Duration
	logger    *zap.Logger
}

// returns {count, pttl}; the expiry is set on the first hit of a window only.
var fixedWindowCountScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

func NewRedisFixedWindowLimiter(client *redis.Client, keyPrefix string, window time.Duration, logger *zap.Logger) *RedisFixedWindowLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFixedWindowLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		window:    window,
		now:       time.Now,
		fallback:  NewFixedWindowLimiter(window, nil),
		timeout:   800 * time.Millisecond,
		logger:    logger,
	}
}

func (l *RedisFixedWindowLimiter) CheckLimit(clientID string, maxRequests int) Decision {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if l.client == nil {
		return l.fallback.CheckLimit(clientID, maxRequests)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	fullKey := fmt.Sprintf("%s:rate:%s", l.keyPrefix, clientID)
	windowMillis := l.window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	values, err := fixedWindowCountScript.Run(ctx, l.client, []string{fullKey}, windowMillis).Int64Slice()
	if err != nil || len(values) != 2 {
		l.logger.Warn("redis rate limit failed, using in-memory window",
			zap.String("key", fullKey), zap.Error(err))
		return l.fallback.CheckLimit(clientID, maxRequests)
	}

	now := l.now()
	resetAt := now.Add(time.Duration(values[1]) * time.Millisecond)
	return newDecision(int(values[0]), maxRequests, resetAt, now)
}

// Cleanup sweeps the in-memory fallback; Redis expires its own keys.
func (l *RedisFixedWindowLimiter) Cleanup() {
	l.fallback.Cleanup()
}
