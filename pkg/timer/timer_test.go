package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1000, 0)

func TestManual_Order(t *testing.T) {
	m := NewManual(epoch)
	var got []string
	m.After(20*time.Millisecond, false, func() { got = append(got, "b") })
	m.After(10*time.Millisecond, false, func() { got = append(got, "a") })
	m.After(20*time.Millisecond, false, func() { got = append(got, "c") })
	h := m.After(15*time.Millisecond, false, func() { got = append(got, "x") })
	m.Cancel(h)
	m.Cancel(h)

	m.Advance(5 * time.Millisecond)
	assert.Empty(t, got)
	m.Advance(15 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(20*time.Millisecond), m.Now())
	assert.Equal(t, 0, m.Pending())
}

func TestManual_Repeat(t *testing.T) {
	m := NewManual(epoch)
	var fired []time.Duration
	var h Handle
	h = m.After(10*time.Millisecond, true, func() {
		fired = append(fired, m.Now().Sub(epoch))
		if len(fired) == 3 {
			m.Cancel(h)
		}
	})
	m.Advance(time.Second)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, fired)
}

func TestManual_RunFor(t *testing.T) {
	m := NewManual(epoch)
	n := 0
	m.After(time.Millisecond, true, func() { n++ })
	assert.True(t, m.RunFor(time.Second, func() bool { return n == 5 }))
	assert.Equal(t, epoch.Add(5*time.Millisecond), m.Now())

	assert.False(t, m.RunFor(3*time.Millisecond, func() bool { return n == 100 }))
	assert.Equal(t, 8, n)
	assert.Equal(t, epoch.Add(8*time.Millisecond), m.Now())
}

func TestTimer(t *testing.T) {
	m := NewManual(epoch)
	n := 0
	tm := NewTimer(m, func() { n++ })
	assert.False(t, tm.Active())

	tm.Start(10*time.Millisecond, false)
	tm.Start(10*time.Millisecond, false)
	assert.True(t, tm.Active())
	m.Advance(4 * time.Millisecond)
	assert.Equal(t, 6*time.Millisecond, tm.Remaining())
	m.Advance(10 * time.Millisecond)
	assert.Equal(t, 1, n)
	assert.False(t, tm.Active())
	assert.Equal(t, time.Duration(0), tm.Remaining())

	tm.Start(5*time.Millisecond, true)
	m.Advance(12 * time.Millisecond)
	assert.Equal(t, 3, n)
	assert.True(t, tm.Active())
	tm.Stop()
	tm.Stop()
	m.Advance(time.Second)
	assert.Equal(t, 3, n)
}

func TestLoop(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var ticks int32
	fired := make(chan struct{})
	l.After(5*time.Millisecond, false, func() { close(fired) })
	h := l.After(time.Millisecond, true, func() { atomic.AddInt32(&ticks, 1) })

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	var ran bool
	require.NoError(t, l.Do(context.Background(), func() {
		l.Cancel(h)
		ran = true
	}))
	assert.True(t, ran)
	assert.True(t, atomic.LoadInt32(&ticks) > 0)

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}
