package ratelimit

import (
	"sync"
	"time"
)

// Window counts calls per connection id. All counters are cleared together
// every interval, so a window is aligned to the reset ticker rather than to
// each connection's first call.
type Window struct {
	mu     sync.Mutex
	counts map[string]int
	stop   chan struct{}
	once   sync.Once
}

// NewWindow returns a Window that is not yet resetting; call Start, or drive
// Reset from a test.
func NewWindow() *Window {
	return &Window{
		counts: make(map[string]int),
		stop:   make(chan struct{}),
	}
}

// Start resets the window every interval until Stop is called.
func (w *Window) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.Reset()
			}
		}
	}()
}

// Stop ends the reset loop.
func (w *Window) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// Allow counts a call for connID and reports whether it is within limit.
// A denied call still counts.
func (w *Window) Allow(connID string, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[connID]++
	return w.counts[connID] <= limit
}

// Count returns the calls recorded for connID in the current window.
func (w *Window) Count(connID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[connID]
}

// Forget drops the counter of a closed connection.
func (w *Window) Forget(connID string) {
	w.mu.Lock()
	delete(w.counts, connID)
	w.mu.Unlock()
}

// Reset clears every counter.
func (w *Window) Reset() {
	w.mu.Lock()
	w.counts = make(map[string]int)
	w.mu.Unlock()
}
