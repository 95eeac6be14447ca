package timer

import (
	"sync"
	"time"
)

// Clock supplies the current time to timers.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a Clock that only moves when told to. It is safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock positioned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current position.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Timer is a polled countdown. The zero value is not usable; construct with [New].
//
// Timer is not safe for concurrent use; the owning engine serializes access.
type Timer struct {
	clock    Clock
	interval time.Duration
	started  time.Time
	running  bool
}

// New returns a stopped timer with a zero interval.
func New(clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{clock: clock}
}

// Feed sets the countdown interval without starting or stopping the timer.
func (t *Timer) Feed(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}
	t.interval = interval
}

// Start begins counting down the current interval from now.
func (t *Timer) Start() {
	t.started = t.clock.Now()
	t.running = true
}

// Stop halts the countdown. Remaining reports zero afterwards.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether Start was called and Stop has not been called since.
// An elapsed timer is still running in this sense.
func (t *Timer) Running() bool {
	return t.running
}

// Interval returns the last fed interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Remaining returns the time left before the countdown elapses, or zero when the timer is
// stopped or has elapsed.
func (t *Timer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	left := t.interval - t.clock.Now().Sub(t.started)
	if left <= 0 {
		return 0
	}
	return left
}

// Elapsed reports whether Remaining is zero.
func (t *Timer) Elapsed() bool {
	return t.Remaining() == 0
}
