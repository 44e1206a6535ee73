package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DuplicateDetector drops identical form submissions seen inside a window.
type DuplicateDetector struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]time.Time
}

func NewDuplicateDetector() *DuplicateDetector {
	return &DuplicateDetector{
		now:     time.Now,
		records: make(map[string]time.Time),
	}
}

// SeenRecently returns true for a repeat inside the window; otherwise it
// records the key and returns false. A non-positive window disables detection.
func (d *DuplicateDetector) SeenRecently(key string, window time.Duration) bool {
	if window <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expireAt, exists := d.records[key]; exists && now.Before(expireAt) {
		return true
	}

	d.records[key] = now.Add(window)
	d.sweep(now)
	return false
}

func (d *DuplicateDetector) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweep(d.now())
}

func (d *DuplicateDetector) sweep(now time.Time) {
	for key, expireAt := range d.records {
		if now.After(expireAt) {
			delete(d.records, key)
		}
	}
}

// SubmissionKey fingerprints the parts of a submission that identify a repeat.
func SubmissionKey(parts ...string) string {
	digest := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(digest[:])
}
