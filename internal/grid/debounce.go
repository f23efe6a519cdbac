package grid

import (
	"sync"
	"time"
)

// CancelFunc cancels a scheduled call. It is safe to call more than once.
type CancelFunc func()

// Debouncer runs only the last of a burst of triggers, delay after the burst
// ends.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending uint64 // token of the armed trigger, 0 when idle
	seq     uint64
}

// NewDebouncer creates a debouncer. A non-positive delay runs triggers on the
// next tick of a zero-length timer.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any call that has not fired yet.
func (d *Debouncer) Trigger(fn func()) CancelFunc {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	token := d.seq
	d.pending = token
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.pending != token {
			d.mu.Unlock()
			return
		}
		d.pending = 0
		d.timer = nil
		d.mu.Unlock()
		fn()
	})

	return func() { d.cancel(token) }
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != 0
}

func (d *Debouncer) cancel(token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == token {
		d.stopLocked()
	}
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = 0
}
