package reconcile

import (
	"sync"
	"time"
)

// Debouncer admits at most one call per key within a fixed window, counted
// from the admitted (leading) call. Calls inside the window are discarded,
// never queued, and do not extend the window.
type Debouncer struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
	now    func() time.Time
}

// NewDebouncer creates a debouncer with the given window
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// TryAcquire reports whether a call for key may proceed now
func (d *Debouncer) TryAcquire(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[key] = now

	// Drop expired keys so the map stays bounded by the live key count
	for k, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, k)
		}
	}
	return true
}

// Window returns the debounce window
func (d *Debouncer) Window() time.Duration {
	return d.window
}
