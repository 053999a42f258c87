// Package cc holds the receiver loss estimation and rate equations used by
// the session's congestion control, and the randomized NACK backoff.
package cc

import (
	"time"

	"github.com/skycoin/mdp/pkg/protocol"
)

const (
	historyDepth = 8
	lagMaskBits  = 32

	// DefaultLagDepth is how many later packets may arrive before a missing
	// sequence number counts as lost.
	DefaultLagDepth = 3
)

var lossWeights = [historyDepth]float64{1.0, 1.0, 1.0, 1.0, 0.8, 0.6, 0.4, 0.2}

// LossEventEstimator turns the sequence numbers of received server packets
// into a TFRC style loss event rate. Reordering within the lag depth is not
// loss. Losses within one event window (about one RTT) form one loss event.
type LossEventEstimator struct {
	init     bool
	lagDepth int
	lagMask  uint32 // bit i: sequence lastSeq-i was received
	valid    int    // positions of lagMask at or after the first packet
	lastSeq  uint16

	eventWindow time.Duration
	eventStart  time.Time
	seenEvent   bool

	current    uint32 // packets in the open loss interval
	history    [historyDepth]uint32
	historyLen int

	lost     uint64
	received uint64
}

// NewLossEventEstimator returns an estimator with DefaultLagDepth.
func NewLossEventEstimator() *LossEventEstimator {
	return &LossEventEstimator{lagDepth: DefaultLagDepth}
}

// SetLagDepth changes the reordering tolerance, capped to the lag mask size.
func (e *LossEventEstimator) SetLagDepth(depth int) {
	if depth < 0 {
		depth = 0
	} else if depth > lagMaskBits-2 {
		depth = lagMaskBits - 2
	}
	e.lagDepth = depth
}

// SetEventWindow sets the interval within which further losses belong to
// the same loss event. It is normally the current RTT estimate.
func (e *LossEventEstimator) SetEventWindow(d time.Duration) { e.eventWindow = d }

// Received returns the number of packets counted as received.
func (e *LossEventEstimator) Received() uint64 { return e.received }

// Lost returns the number of packets declared lost.
func (e *LossEventEstimator) Lost() uint64 { return e.lost }

// Update accounts for a packet with sequence seq arriving at now. It reports
// whether the packet revealed the start of a new loss event.
func (e *LossEventEstimator) Update(now time.Time, seq uint16) bool {
	if !e.init {
		e.init = true
		e.lastSeq = seq
		e.lagMask = 1
		e.valid = 1
		e.current = 1
		e.received++
		return false
	}

	d := int(protocol.SeqDelta(seq, e.lastSeq))
	if d <= 0 {
		// late or duplicate; rescue it if it has not been declared lost yet
		pos := -d
		if pos < e.valid && e.lagMask&(1<<uint(pos)) == 0 {
			e.lagMask |= 1 << uint(pos)
			e.received++
		}
		return false
	}

	lost := 0
	for k := 1; k <= d; k++ {
		prior := e.lagDepth + k - d
		if prior < 0 || (prior < e.valid && e.lagMask&(1<<uint(prior)) == 0) {
			lost++
		}
	}
	if d >= lagMaskBits {
		e.lagMask = 1
	} else {
		e.lagMask = e.lagMask<<uint(d) | 1
	}
	if e.valid += d; e.valid > lagMaskBits {
		e.valid = lagMaskBits
	}
	e.lastSeq = seq
	e.received++
	e.lost += uint64(lost)
	e.current += uint32(d)

	if lost == 0 {
		return false
	}
	if e.seenEvent && now.Sub(e.eventStart) < e.eventWindow {
		return false
	}
	e.seenEvent = true
	e.eventStart = now
	e.pushInterval()
	return true
}

func (e *LossEventEstimator) pushInterval() {
	copy(e.history[1:], e.history[:historyDepth-1])
	e.history[0] = e.current
	if e.historyLen < historyDepth {
		e.historyLen++
	}
	e.current = 0
}

// LossEventFraction returns the estimated loss event rate p in [0, 1]. It is
// zero until the first loss event.
func (e *LossEventEstimator) LossEventFraction() float64 {
	if e.historyLen == 0 {
		return 0
	}

	var tot0, w0 float64
	for i := 0; i < e.historyLen; i++ {
		tot0 += lossWeights[i] * float64(e.history[i])
		w0 += lossWeights[i]
	}
	mean0 := tot0 / w0

	// an abnormally long open interval discounts the older history
	discount := 1.0
	cur := float64(e.current)
	if cur > 2*mean0 && cur > 0 {
		if discount = 2 * mean0 / cur; discount < 0.5 {
			discount = 0.5
		}
	}

	tot1 := lossWeights[0] * cur
	w1 := lossWeights[0]
	n := e.historyLen
	if n > historyDepth-1 {
		n = historyDepth - 1
	}
	for i := 0; i < n; i++ {
		w := lossWeights[i+1] * discount
		tot1 += w * float64(e.history[i])
		w1 += w
	}
	mean1 := tot1 / w1

	mean := mean0
	if mean1 > mean {
		mean = mean1
	}
	if mean < 1 {
		return 1
	}
	return 1 / mean
}
