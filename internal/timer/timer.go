// Package timer provides the deadline used to bound every wait of a turn.
package timer

import "time"

// Clock supplies the current time. Readings from time.Now carry a monotonic
// component, so deadlines are immune to wall clock changes.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Timer holds at most one deadline.
type Timer struct {
	clock    Clock
	deadline time.Time
	armed    bool
}

// New creates an unarmed timer. A nil clock uses SystemClock.
func New(clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{clock: clock}
}

// Arm sets the deadline to d from now, replacing any previous deadline.
func (t *Timer) Arm(d time.Duration) {
	t.deadline = t.clock.Now().Add(d)
	t.armed = true
}

// Reset disarms the timer.
func (t *Timer) Reset() {
	t.deadline = time.Time{}
	t.armed = false
}

// Armed reports whether a deadline has been set since the last Reset.
func (t *Timer) Armed() bool {
	return t.armed
}

// Expired reports whether the timer is armed and its deadline has passed.
func (t *Timer) Expired() bool {
	return t.armed && !t.clock.Now().Before(t.deadline)
}

// Remaining returns the time left until the deadline, or zero when the timer
// is unarmed or expired.
func (t *Timer) Remaining() time.Duration {
	if !t.armed {
		return 0
	}
	if d := t.deadline.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}
