package cc

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossEventEstimator_NoLoss(t *testing.T) {
	e := NewLossEventEstimator()
	now := time.Unix(0, 0)
	for seq := uint16(0xfff0); seq != 0x0100; seq++ {
		assert.False(t, e.Update(now, seq))
	}
	assert.Equal(t, uint64(0), e.Lost())
	assert.Equal(t, 0.0, e.LossEventFraction())
}

func TestLossEventEstimator_Reorder(t *testing.T) {
	e := NewLossEventEstimator()
	now := time.Unix(0, 0)
	for _, seq := range []uint16{0, 1, 3, 4, 2, 5, 6, 7, 8, 9} {
		assert.False(t, e.Update(now, seq), "seq %d", seq)
	}
	assert.Equal(t, uint64(0), e.Lost())
	assert.Equal(t, uint64(10), e.Received())
}

func TestLossEventEstimator_Events(t *testing.T) {
	e := NewLossEventEstimator()
	e.SetEventWindow(100 * time.Millisecond)
	now := time.Unix(0, 0)

	events := 0
	seq := uint16(0)
	for i := 0; i < 1000; i++ {
		now = now.Add(10 * time.Millisecond)
		// one packet in 100 is lost
		if i%100 == 50 {
			seq++
			continue
		}
		if e.Update(now, seq) {
			events++
		}
		seq++
	}
	assert.Equal(t, 10, events)
	assert.Equal(t, uint64(10), e.Lost())
	assert.InDelta(t, 0.01, e.LossEventFraction(), 0.002)
}

func TestLossEventEstimator_SameEvent(t *testing.T) {
	e := NewLossEventEstimator()
	e.SetEventWindow(time.Second)
	now := time.Unix(0, 0)

	var events int
	for seq := uint16(0); seq < 100; seq++ {
		if seq == 20 || seq == 22 || seq == 24 {
			continue
		}
		if e.Update(now, seq) {
			events++
		}
	}
	assert.Equal(t, 1, events)
	assert.Equal(t, uint64(3), e.Lost())
}

func TestLossEventEstimator_Discount(t *testing.T) {
	e := NewLossEventEstimator()
	now := time.Unix(0, 0)
	seq := uint16(0)
	feed := func(n int) {
		for i := 0; i < n; i++ {
			now = now.Add(time.Millisecond)
			e.Update(now, seq)
			seq++
		}
	}
	for i := 0; i < 8; i++ {
		feed(20)
		seq++
	}
	feed(4)
	p := e.LossEventFraction()
	assert.InDelta(t, 1.0/21, p, 0.01)

	// a long loss free stretch drives the estimate down
	feed(2000)
	assert.True(t, e.LossEventFraction() < p/2)
}

func TestTfrcRate(t *testing.T) {
	assert.True(t, math.IsInf(TfrcRate(1000, 0.1, 0), 1))

	r1 := TfrcRate(1000, 0.1, 0.01)
	r2 := TfrcRate(1000, 0.1, 0.1)
	r3 := TfrcRate(1000, 0.2, 0.01)
	assert.True(t, r1 > r2)
	assert.True(t, r1 > r3)
	assert.InDelta(t, r1/2, r3, 1e-6*r1)

	// s / (R*sqrt(2p/3) + 4R*3*sqrt(3p/8)*p*(1+32p^2)) at s=1000, R=0.1, p=0.01
	want := 1000 / (0.1*math.Sqrt(0.02/3) + 0.4*3*math.Sqrt(0.03/8)*0.01*(1+32*0.0001))
	assert.InDelta(t, want, r1, 1e-6)
}

func TestErand(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	assert.Equal(t, 0.0, Erand(r, 0, 10))

	var sumSmall, sumLarge float64
	const n = 2000
	for i := 0; i < n; i++ {
		v := Erand(r, 2, 1)
		require.True(t, v >= 0 && v <= 2)
		sumSmall += v

		v = Erand(r, 2, 1000)
		require.True(t, v >= 0 && v <= 2)
		sumLarge += v
	}
	// bigger groups push the draws toward the window end
	assert.True(t, sumLarge > sumSmall)
	assert.True(t, Erand(nil, 1, 5) <= 1)
}
