// Package search turns raw keystrokes into committed search terms.
package search

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long input must stay unchanged before it commits.
const DefaultQuietPeriod = 300 * time.Millisecond

// Debouncer holds the pending (every keystroke) and committed (settled) term.
// The committed term only changes after a quiet period with no Set calls, and
// always to the last value set.
type Debouncer struct {
	quiet    time.Duration
	onCommit func(string)

	mu        sync.Mutex
	pending   string
	committed string
	timer     *time.Timer
	gen       uint64
	stopped   bool
}

// NewDebouncer returns a Debouncer calling onCommit, on the timer goroutine,
// each time the committed term changes. quiet <= 0 uses DefaultQuietPeriod.
func NewDebouncer(quiet time.Duration, onCommit func(string)) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{quiet: quiet, onCommit: onCommit}
}

// Set records raw input and restarts the quiet timer.
func (d *Debouncer) Set(raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = raw
	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

// Flush commits the pending term now. It does nothing after Stop.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.commitLocked()
}

// Stop cancels any pending commit. Later Set calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) Committed() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// a newer Set, Flush or Stop superseded this timer
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.commitLocked()
}

// commitLocked must be called with d.mu held; it releases it.
func (d *Debouncer) commitLocked() {
	if d.pending == d.committed {
		d.mu.Unlock()
		return
	}
	d.committed = d.pending
	term := d.committed
	d.mu.Unlock()

	if d.onCommit != nil {
		d.onCommit(term)
	}
}
