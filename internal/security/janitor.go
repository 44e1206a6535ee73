package security

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is anything holding expiring state that needs periodic pruning.
type Sweeper interface {
	Cleanup()
}

// RunCleanup calls sweeper.Cleanup every interval until ctx is done.
// A non-positive interval disables the loop.
func RunCleanup(ctx context.Context, sweeper Sweeper, interval time.Duration, logger *zap.Logger) {
	if sweeper == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("rate limit cleanup stopped")
			return
		case <-ticker.C:
			sweeper.Cleanup()
			logger.Debug("rate limit windows swept")
		}
	}
}
