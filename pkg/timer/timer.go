package timer

import "time"

// Timer is a re-armable callback on a Scheduler. Starting an active timer
// first deactivates it, so a timer never fires twice for one arming.
type Timer struct {
	s        Scheduler
	fn       func()
	h        Handle
	active   bool
	repeat   bool
	interval time.Duration
	armed    time.Time
}

// NewTimer returns an inactive timer that calls fn.
func NewTimer(s Scheduler, fn func()) *Timer {
	return &Timer{s: s, fn: fn}
}

// Start arms the timer to fire after d, and every d after that when repeat is set.
func (t *Timer) Start(d time.Duration, repeat bool) {
	t.Stop()
	t.active = true
	t.repeat = repeat && d > 0
	t.interval = d
	t.armed = t.s.Now()
	t.h = t.s.After(d, t.repeat, t.fire)
}

// Stop deactivates the timer. It is safe on an inactive timer.
func (t *Timer) Stop() {
	if !t.active {
		return
	}
	t.s.Cancel(t.h)
	t.active = false
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool { return t.active }

// Interval returns the interval of the last arming.
func (t *Timer) Interval() time.Duration { return t.interval }

// Remaining returns the time left until the next firing, or zero when inactive.
func (t *Timer) Remaining() time.Duration {
	if !t.active {
		return 0
	}
	left := t.interval - t.s.Now().Sub(t.armed)
	if left < 0 {
		return 0
	}
	return left
}

func (t *Timer) fire() {
	if !t.repeat {
		t.active = false
	} else {
		t.armed = t.s.Now()
	}
	t.fn()
}
