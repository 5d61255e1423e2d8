package trigger

import (
	"sync"
	"time"
)

// Wheel manages a set of named timers. Unlike a raw time.Timer per
// caller, Wheel lets a caller cancel-or-reset a timer by name without
// having to thread the underlying *time.Timer through call sites —
// action timeouts key off their transition key, and the controller's
// integration timeout off a fixed name.
type Wheel struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWheel creates an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{timers: make(map[string]*time.Timer)}
}

// Schedule arms (or re-arms) the named timer to fire fn after d, replacing
// any previous timer under the same name.
func (w *Wheel) Schedule(name string, d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.timers[name]; ok {
		existing.Stop()
	}
	w.timers[name] = time.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()
		fn()
	})
}

// Cancel stops the named timer if it exists. Returns false if no such
// timer was pending.
func (w *Wheel) Cancel(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.timers[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(w.timers, name)
	return true
}

// Pending reports whether the named timer is still armed.
func (w *Wheel) Pending(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[name]
	return ok
}

// StopAll cancels every outstanding timer.
func (w *Wheel) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}
