// Package watchdog implements the per-channel idle timer (spec §4.6).
// Grounded on the teacher's ping-ticker control loops
// (internal/rcon/server.go controlLoop, internal/rcon/client.go
// controlLoop), but built on a mutex-guarded time.AfterFunc timer that
// is re-armed on activity rather than a time.Ticker and select loop, as
// a standalone reusable type instead of being inlined into one control
// loop.
package watchdog

import (
	"sync"
	"time"
)

// Watchdog fires onIdle exactly once if Reset is not called again within
// the configured idle duration. Stop cancels it permanently. Safe for
// concurrent use; Reset/Stop/fire races are resolved by a single done flag
// so onIdle never fires after Stop.
type Watchdog struct {
	idle   time.Duration
	onIdle func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// New starts a watchdog that calls onIdle after idle elapses without a
// Reset. Fire-and-forget sends never create one (spec §4.6).
func New(idle time.Duration, onIdle func()) *Watchdog {
	w := &Watchdog{idle: idle, onIdle: onIdle}
	w.timer = time.AfterFunc(idle, w.fire)
	return w
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.onIdle()
}

// Reset restarts the idle timer, called on any read or write on the owning
// channel (spec §4.6: "resets on any read or write").
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Stop()
	w.timer.Reset(w.idle)
}

// Stop cancels the watchdog permanently; onIdle will never fire afterward.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.timer.Stop()
}
