// CLAUDE:SUMMARY Resize debouncer: ignores small width jitter, cancel-replaces a single settle timer, fires once after the width stops changing.
// Package debounce coalesces a burst of container-width changes into one
// callback.
//
// A width change smaller than Threshold against the last recorded width is
// ignored. A larger one records the width and reschedules the callback
// Settle after now, cancelling the previously scheduled one. At most one
// callback is pending at any time. The callback receives nothing: the owner
// reads the current width when it runs.
//
//	d := debounce.New(debounce.Config{}, func() { post(reload) })
//	d.Observe(800)
package debounce

import (
	"log/slog"
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules on the runtime timer heap.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config tunes a Debouncer.
type Config struct {
	// Threshold is the minimum width change, in pixels, that counts. Default: 20.
	Threshold int `yaml:"threshold"`
	// Settle is the quiet period before the callback fires. Default: 600ms.
	Settle time.Duration `yaml:"settle"`
	// Scheduler overrides RealScheduler.
	Scheduler Scheduler `yaml:"-"`
	// Logger overrides the default slog logger.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 20
	}
	if c.Settle <= 0 {
		c.Settle = 600 * time.Millisecond
	}
	if c.Scheduler == nil {
		c.Scheduler = RealScheduler{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Debouncer is safe for concurrent use. The callback runs on the
// scheduler's goroutine; owners that need a specific goroutine must post
// from it.
type Debouncer struct {
	cfg  Config
	fire func()

	mu      sync.Mutex
	last    int
	seen    bool
	timer   Timer
	seq     uint64
	stopped bool
}

// New creates a Debouncer that calls fire once per settled burst.
func New(cfg Config, fire func()) *Debouncer {
	cfg.defaults()
	return &Debouncer{cfg: cfg, fire: fire}
}

// SetBaseline records width without scheduling anything. Used after a load
// so the first real resize is measured against the width the load used.
func (d *Debouncer) SetBaseline(width int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = width
	d.seen = true
}

// Observe reports a new container width. It returns true when the change
// was significant and the callback was (re)scheduled.
func (d *Debouncer) Observe(width int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if d.seen && abs(width-d.last) < d.cfg.Threshold {
		return false
	}
	d.last = width
	d.seen = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.cfg.Scheduler.AfterFunc(d.cfg.Settle, func() { d.expire(seq) })
	d.cfg.Logger.Debug("debounce: rescheduled", "width", width, "settle", d.cfg.Settle)
	return true
}

// expire runs the callback unless a newer Observe or Stop superseded seq.
// A timer that fires concurrently with Stop cannot be recalled, hence the
// sequence check.
func (d *Debouncer) expire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	width := d.last
	d.mu.Unlock()

	d.cfg.Logger.Debug("debounce: settled", "width", width)
	d.fire()
}

// LastWidth returns the last significant width observed.
func (d *Debouncer) LastWidth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Pending reports whether a callback is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops the pending callback, if any. Later Observe calls schedule
// again.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

// Stop cancels the pending callback and ignores every later Observe.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
