package mute

import (
	"sync"
	"time"
)

// Timer is a restartable one-shot timer. Start replaces any pending wake, so
// a stale tick scheduled before a Stop or restart never fires. The callback
// runs on its own goroutine, never under the timer's lock.
type Timer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
	fn  func()
}

// NewTimer creates a timer that invokes fn when a started delay elapses.
func NewTimer(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Start schedules the callback after d, cancelling any pending wake.
func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		live := gen == t.gen
		if live {
			t.t = nil
		}
		t.mu.Unlock()
		if live {
			t.fn()
		}
	})
}

// Stop cancels any pending wake. It is safe to call on an idle timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

// Pending reports whether a wake is currently scheduled.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil
}
