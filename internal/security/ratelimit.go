package security

import (
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = time.Hour

	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Decision result of a single admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

// Headers quota headers for the response; Retry-After only on rejection.
func (d Decision) Headers() map[string]string {
	headers := map[string]string{
		HeaderLimit:     strconv.Itoa(d.Limit),
		HeaderRemaining: strconv.Itoa(d.Remaining),
		HeaderReset:     strconv.FormatInt(ceilSeconds(d.ResetAt.UnixMilli()), 10),
	}
	if !d.Allowed {
		headers[HeaderRetryAfter] = strconv.Itoa(d.RetryAfter)
	}
	return headers
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func (w rateWindow) expired(now time.Time) bool {
	return now.After(w.resetAt)
}

// FixedWindowLimiter fixed-window limiter keyed by client id.
// Windows live in process memory only, so a restart resets every quota.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	records map[string]*rateWindow
}

func NewFixedWindowLimiter(window time.Duration, now func() time.Time) *FixedWindowLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &FixedWindowLimiter{
		window:  window,
		now:     now,
		records: make(map[string]*rateWindow),
	}
}

// CheckLimit counts the request against clientID's current window and
// reports whether it is admitted. The request that crosses the limit is
// counted too.
func (l *FixedWindowLimiter) CheckLimit(clientID string, maxRequests int) Decision {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, exists := l.records[clientID]
	if !exists || record.expired(now) {
		record = &rateWindow{resetAt: now.Add(l.window)}
		l.records[clientID] = record
	}
	record.count++

	return newDecision(record.count, maxRequests, record.resetAt, now)
}

// Cleanup drops every window whose reset time has passed.
func (l *FixedWindowLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, record := range l.records {
		if record.expired(now) {
			delete(l.records, key)
		}
	}
}

func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func newDecision(count, maxRequests int, resetAt, now time.Time) Decision {
	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	retryAfter := 0
	if untilReset := resetAt.Sub(now); untilReset > 0 {
		retryAfter = int(math.Ceil(untilReset.Seconds()))
	}

	return Decision{
		Allowed:    count <= maxRequests,
		Limit:      maxRequests,
		Count:      count,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

func ceilSeconds(millis int64) int64 {
	seconds := millis / 1000
	if millis%1000 > 0 {
		seconds++
	}
	return seconds
}
