package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Throttle rate-limits tick attempts per run. Allow reports whether the run
// may be ticked now; a true result records the attempt.
type Throttle interface {
	Allow(runID uuid.UUID) bool

	// Forget drops the throttle entry for a run. Called when a run reaches
	// a terminal state so the map does not grow without bound.
	Forget(runID uuid.UUID)
}

// MemoryThrottle is an in-process Throttle enforcing a minimum interval
// between tick attempts for the same run. Safe for concurrent use.
type MemoryThrottle struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastTick map[uuid.UUID]time.Time
}

// NewMemoryThrottle creates a throttle with the given minimum interval.
// A non-positive interval disables throttling.
func NewMemoryThrottle(interval time.Duration) *MemoryThrottle {
	return &MemoryThrottle{
		interval: interval,
		now:      time.Now,
		lastTick: make(map[uuid.UUID]time.Time),
	}
}

// Allow reports whether the run may be ticked now and records the attempt
// when allowed.
func (t *MemoryThrottle) Allow(runID uuid.UUID) bool {
	if t.interval <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastTick[runID]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastTick[runID] = now
	return true
}

// Forget drops the throttle entry for a run.
func (t *MemoryThrottle) Forget(runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastTick, runID)
}
