package timer

import (
	"context"
	"sync"
	"time"
)

// Loop is a real-time Scheduler. Callbacks and posted functions run one at a
// time on the goroutine that calls Run. After, Cancel and Post are safe from
// any goroutine.
type Loop struct {
	mu    sync.Mutex
	q     *queue
	posts []func()
	wake  chan struct{}
}

// NewLoop returns a Loop. Nothing runs until Run.
func NewLoop() *Loop {
	return &Loop{q: newQueue(), wake: make(chan struct{}, 1)}
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return time.Now() }

// After implements Scheduler.
func (l *Loop) After(d time.Duration, repeat bool, fn func()) Handle {
	l.mu.Lock()
	h := l.q.add(time.Now(), d, repeat, fn)
	l.mu.Unlock()
	l.notify()
	return h
}

// Cancel implements Scheduler.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	l.q.cancel(h)
	l.mu.Unlock()
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posts = append(l.posts, fn)
	l.mu.Unlock()
	l.notify()
}

// Do runs fn on the loop goroutine and waits for it to return, or for ctx
// to be done.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		l.mu.Lock()
		posts := l.posts
		l.posts = nil
		l.mu.Unlock()
		for _, fn := range posts {
			fn()
		}

		for {
			l.mu.Lock()
			e := l.q.popDue(time.Now())
			l.mu.Unlock()
			if e == nil {
				break
			}
			e.fn()
		}

		l.mu.Lock()
		when, ok := l.q.next()
		pending := len(l.posts) > 0
		l.mu.Unlock()
		if pending {
			continue
		}

		wait := time.Hour
		if ok {
			wait = time.Until(when)
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-t.C:
		}
	}
}
