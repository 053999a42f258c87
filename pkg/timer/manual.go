package timer

import "time"

// Manual is a Scheduler whose clock only moves when told to. Callbacks run
// synchronously inside Advance and RunFor.
type Manual struct {
	now time.Time
	q   *queue
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, q: newQueue()}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time { return m.now }

// After implements Scheduler.
func (m *Manual) After(d time.Duration, repeat bool, fn func()) Handle {
	return m.q.add(m.now, d, repeat, fn)
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(h Handle) { m.q.cancel(h) }

// Pending returns the number of scheduled callbacks.
func (m *Manual) Pending() int { return m.q.Len() }

// Step runs the earliest callback, moving the clock to its deadline, and
// reports whether there was one.
func (m *Manual) Step() bool {
	when, ok := m.q.next()
	if !ok {
		return false
	}
	if when.After(m.now) {
		m.now = when
	}
	if e := m.q.popDue(m.now); e != nil {
		e.fn()
	}
	return true
}

// Advance moves the clock forward by d, running every callback that falls
// due on the way in deadline order.
func (m *Manual) Advance(d time.Duration) {
	end := m.now.Add(d)
	for {
		when, ok := m.q.next()
		if !ok || when.After(end) {
			break
		}
		m.Step()
	}
	m.now = end
}

// RunFor steps through callbacks until done reports true or max elapses. It
// reports whether done was satisfied.
func (m *Manual) RunFor(max time.Duration, done func() bool) bool {
	end := m.now.Add(max)
	for !done() {
		when, ok := m.q.next()
		if !ok || when.After(end) {
			m.now = end
			return done()
		}
		m.Step()
	}
	return true
}
