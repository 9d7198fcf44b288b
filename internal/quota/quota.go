// Package quota holds the process-wide retrieval pacing state: the byte
// counter compared against the configured download quota, and the pacer that
// spaces repeated retrieval attempts.
package quota

import (
	"math"
	"sync"
)

// Tracker counts bytes downloaded over the process lifetime and compares the
// running total against an optional ceiling. The counter saturates instead of
// wrapping; all methods are safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	quota    uint64 // 0 means no quota configured
	total    uint64
	overflow bool
}

// NewTracker creates a tracker with the given quota in bytes. A zero quota
// disables the ceiling check.
func NewTracker(quota uint64) *Tracker {
	return &Tracker{quota: quota}
}

// Increase adds by to the running total. If the addition would wrap, the
// total pins at the maximum representable value and every later call is a
// no-op.
func (t *Tracker) Increase(by uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.overflow {
		return
	}
	old := t.total
	t.total += by
	if t.total < old {
		t.overflow = true
		t.total = math.MaxUint64
	}
}

// Exceeded reports whether the downloaded total is strictly over the quota.
// It reports false when no quota is configured, and false after an overflow:
// the counter is unusable at that point, and a long-running job should not
// be aborted on a counter artifact.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quota == 0 {
		return false
	}
	if t.overflow {
		return false
	}
	return t.total > t.quota
}

// Total returns the bytes counted so far.
func (t *Tracker) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Overflowed reports whether the counter has saturated.
func (t *Tracker) Overflowed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overflow
}
