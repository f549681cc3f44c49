package dispatch

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a throttle reservation.
type Decision int

const (
	// DecisionStart means the run may start immediately.
	DecisionStart Decision = iota
	// DecisionDefer means the caller must wait the returned duration and
	// then call Release before starting; the slot is reserved.
	DecisionDefer
	// DecisionCoalesce means a deferred run for the same key is already
	// pending; this submission is absorbed by it and must not start.
	DecisionCoalesce
)

type window struct {
	lastStart time.Time
	pending   bool
	lastSeen  time.Time
}

// Throttle enforces at most one run start per key per fixed window.
// A submission arriving inside the window is deferred to the window end;
// further submissions inside the same window coalesce into the pending one.
// It is a rate limiter, not a mutual-exclusion lock.
type Throttle struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time // for testing
}

// NewThrottle creates an empty keyed throttle.
func NewThrottle() *Throttle {
	return &Throttle{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Reserve decides whether a run keyed by key may start under the given
// window period. A zero period always starts.
func (t *Throttle) Reserve(key string, period time.Duration) (Decision, time.Duration) {
	if period <= 0 {
		return DecisionStart, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w, ok := t.windows[key]
	if !ok {
		t.windows[key] = &window{lastStart: now, lastSeen: now}
		return DecisionStart, 0
	}
	w.lastSeen = now

	if now.Sub(w.lastStart) >= period {
		w.lastStart = now
		w.pending = false
		return DecisionStart, 0
	}

	if w.pending {
		return DecisionCoalesce, 0
	}
	w.pending = true
	return DecisionDefer, w.lastStart.Add(period).Sub(now)
}

// Release marks a deferred run as started, opening a fresh window.
func (t *Throttle) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[key]; ok {
		w.lastStart = t.now()
		w.pending = false
	}
}

// StartCleanup spawns a goroutine that removes idle keys every interval.
// A key is idle if it has not been seen for longer than maxIdle.
// Returns a cancel function that stops the cleanup goroutine.
func (t *Throttle) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

// cleanup removes keys that have been idle longer than maxIdle.
// Keys with a pending deferred run are kept.
func (t *Throttle) cleanup(maxIdle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxIdle)
	for key, w := range t.windows {
		if !w.pending && w.lastSeen.Before(cutoff) {
			delete(t.windows, key)
		}
	}
}

// Len returns the number of tracked keys (for metrics and testing).
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
