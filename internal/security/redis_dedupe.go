package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDuplicateDetector shares the duplicate window across instances via
// SETNX. Falls back to the in-memory detector when Redis is unavailable.
type RedisDuplicateDetector struct {
	client    *redis.Client
	keyPrefix string
	fallback  *DuplicateDetector
	timeout   time.Duration
	logger    *zap.Logger
}

func NewRedisDuplicateDetector(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisDuplicateDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDuplicateDetector{
		client:    client,
		keyPrefix: keyPrefix,
		fallback:  NewDuplicateDetector(),
		timeout:   800 * time.Millisecond,
		logger:    logger,
	}
}

// SeenRecently mirrors DuplicateDetector.SeenRecently; a non-positive window
// never reaches Redis, where SETNX without expiry would pin the key forever.
func (d *RedisDuplicateDetector) SeenRecently(key string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	if d.client == nil {
		return d.fallback.SeenRecently(key, window)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	fullKey := fmt.Sprintf("%s:dedupe:%s", d.keyPrefix, key)
	ok, err := d.client.SetNX(ctx, fullKey, "1", window).Result()
	if err != nil {
		d.logger.Warn("redis dedupe failed, using in-memory window",
			zap.String("key", fullKey), zap.Error(err))
		return d.fallback.SeenRecently(key, window)
	}
	return !ok
}

func (d *RedisDuplicateDetector) Cleanup() {
	d.fallback.Cleanup()
}
