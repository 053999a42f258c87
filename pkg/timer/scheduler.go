// Package timer provides the scheduler the session engine runs on: the
// Scheduler boundary, a real-time event loop, a manual clock for tests and a
// re-armable Timer.
package timer

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler runs callbacks at deadlines. Callbacks of one scheduler never run
// concurrently with each other.
type Scheduler interface {
	Now() time.Time
	// After schedules fn to run once after d, or every d when repeat is set.
	After(d time.Duration, repeat bool, fn func()) Handle
	// Cancel stops a scheduled callback. Unknown handles are ignored.
	Cancel(h Handle)
}

type entry struct {
	id       Handle
	when     time.Time
	seq      uint64
	interval time.Duration
	repeat   bool
	fn       func()
	index    int
}

// queue orders entries by deadline, then by scheduling order.
type queue struct {
	items  []*entry
	byID   map[Handle]*entry
	nextID Handle
	seq    uint64
}

func newQueue() *queue { return &queue{byID: make(map[Handle]*entry)} }

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.when.Equal(b.when) {
		return a.seq < b.seq
	}
	return a.when.Before(b.when)
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *queue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *queue) Pop() interface{} {
	n := len(q.items)
	e := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	e.index = -1
	return e
}

func (q *queue) add(now time.Time, d time.Duration, repeat bool, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	q.nextID++
	q.seq++
	e := &entry{id: q.nextID, when: now.Add(d), seq: q.seq, interval: d, repeat: repeat, fn: fn}
	heap.Push(q, e)
	q.byID[e.id] = e
	return e.id
}

func (q *queue) cancel(h Handle) {
	e, ok := q.byID[h]
	if !ok {
		return
	}
	delete(q.byID, h)
	if e.index >= 0 {
		heap.Remove(q, e.index)
	}
}

// next returns the earliest deadline.
func (q *queue) next() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].when, true
}

// popDue removes the earliest entry due at now. Repeating entries are
// rescheduled one interval after their deadline.
func (q *queue) popDue(now time.Time) *entry {
	if len(q.items) == 0 || q.items[0].when.After(now) {
		return nil
	}
	e := q.items[0]
	if e.repeat && e.interval > 0 {
		q.seq++
		e.when = e.when.Add(e.interval)
		e.seq = q.seq
		heap.Fix(q, 0)
	} else {
		heap.Pop(q)
		delete(q.byID, e.id)
	}
	return e
}
