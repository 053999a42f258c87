package session

import (
	"math"
	"time"

	"github.com/skycoin/mdp/pkg/cc"
	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/timer"
)

// grttDecay is the weight of the old estimate when GRTT shrinks at the end
// of a probe epoch.
const grttDecay = 0.75

// grttState is the server's group round trip time estimator and rate controller.
type grttState struct {
	sv         *server
	grtt       float64
	grttQ      uint8
	probeTimer *timer.Timer
	probeSeq   uint8

	peak      float64
	responses int

	// worst congestion feedback of the current epoch
	ccRate float64
	ccNode uint32
	ccLoss float64
	ccRtt  float64
	lossy  bool
}

func (sv *server) initGrtt() {
	g := &sv.grttState
	g.sv = sv
	g.setGrtt(sv.cfg.GrttInitial)
	g.ccRate = math.Inf(1)
	g.probeTimer = timer.NewTimer(sv.s.sched, g.onProbe)
	if sv.cfg.GrttProbeInterval > 0 {
		g.probeTimer.Start(0, false)
	}
}

func (sv *server) stopGrtt() { sv.probeTimer.Stop() }

func (g *grttState) grttValue() float64 { return g.grtt }

func (g *grttState) setGrtt(v float64) {
	if v > g.sv.cfg.GrttMax {
		v = g.sv.cfg.GrttMax
	}
	if v < protocol.RttMin {
		v = protocol.RttMin
	}
	g.grtt = v
	g.grttQ = protocol.QuantizeRtt(v)
	g.sv.s.metrics.SetGrtt(protocol.Duration(v))
}

// onProbe closes the current probe epoch and starts the next one.
func (g *grttState) onProbe() {
	g.endEpoch()
	sv := g.sv
	s := sv.s
	req := &protocol.GrttReq{
		GRTT:        g.grttQ,
		Seq:         g.probeSeq + 1,
		SendTime:    protocol.TimestampFrom(s.sched.Now()),
		HoldTime:    durationStamp(protocol.Duration(g.grtt)),
		SegmentSize: uint16(sv.cfg.SegmentSize),
		Rate:        uint32(s.txRate),
		RTT:         protocol.QuantizeRtt(g.ccRtt),
		Loss:        protocol.QuantizeLoss(g.ccLoss),
	}
	g.probeSeq++
	if sv.cfg.CongestionControl {
		req.Flags |= protocol.GrttReqCongestion
		if g.ccNode != 0 {
			req.Nodes = []uint32{g.ccNode}
		}
	}
	s.enqueue(req, s.group) // nolint: errcheck
	g.probeTimer.Start(sv.cfg.GrttProbeInterval, false)
}

// endEpoch lets GRTT decay toward the epoch peak and updates the rate.
func (g *grttState) endEpoch() {
	if g.responses == 0 {
		return
	}
	if g.peak < g.grtt {
		g.setGrtt(grttDecay*g.grtt + (1-grttDecay)*g.peak)
	}
	sv := g.sv
	if sv.cfg.CongestionControl {
		rate := sv.s.txRate
		if g.lossy {
			rate = math.Min(g.ccRate, 2*rate)
		} else {
			rate = 2 * rate
		}
		rate = math.Max(sv.cfg.TxRateMin, math.Min(rate, sv.cfg.TxRateMax))
		if rate != sv.s.txRate {
			log.Debugf("Rate %.0f -> %.0f (loss=%.4f rtt=%.3f).", sv.s.txRate, rate, g.ccLoss, g.ccRtt)
		}
		sv.s.txRate = rate
		sv.s.metrics.SetTxRate(rate)
	}
	g.peak = 0
	g.responses = 0
	g.ccRate = math.Inf(1)
	g.lossy = false
}

// feedback folds the GRTT response and loss report of a NACK or ACK in.
func (sv *server) feedback(node uint32, f *protocol.Feedback) {
	if f.GrttResponse.IsZero() {
		return
	}
	g := &sv.grttState
	rtt := sv.s.sched.Now().Sub(f.GrttResponse.Time()).Seconds()
	if rtt <= 0 {
		rtt = protocol.RttMin
	}
	g.responses++
	if rtt > g.peak {
		g.peak = rtt
	}
	if rtt > g.grtt {
		g.setGrtt(rtt)
	}
	loss := protocol.UnquantizeLoss(f.Loss)
	sv.stats.GrttResponses++
	if !sv.cfg.CongestionControl {
		return
	}
	if loss > 0 {
		g.lossy = true
		if r := cc.TfrcRate(float64(sv.cfg.SegmentSize), rtt, loss); r < g.ccRate {
			g.ccRate, g.ccNode, g.ccLoss, g.ccRtt = r, node, loss, rtt
		}
	} else if g.ccNode == 0 || g.ccNode == node {
		g.ccNode, g.ccLoss, g.ccRtt = node, 0, rtt
	}
}

func durationStamp(d time.Duration) protocol.Timestamp {
	return protocol.Timestamp{Sec: uint32(d / time.Second), Usec: uint32(d % time.Second / time.Microsecond)}
}

func stampDuration(ts protocol.Timestamp) time.Duration {
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Usec)*time.Microsecond
}
