// Package protocol implements the MDP wire format: message layouts, the NACK
// content sub-codec, windowed sequence arithmetic and the GRTT and loss
// quantizers shared by servers and clients.
package protocol

import (
	"math"
	"time"
)

// Before reports whether object id a precedes b in 32-bit windowed order.
// It is consistent across the 0xFFFFFFFF -> 0 wrap for ids within 2^31.
func Before(a, b uint32) bool { return int32(a-b) < 0 }

// After reports whether a follows b in windowed order.
func After(a, b uint32) bool { return int32(a-b) > 0 }

// Delta returns the signed windowed distance a-b.
func Delta(a, b uint32) int32 { return int32(a - b) }

// SeqBefore is Before for 16-bit sequence numbers.
func SeqBefore(a, b uint16) bool { return int16(a-b) < 0 }

// SeqDelta returns the signed windowed distance a-b of 16-bit sequence numbers.
func SeqDelta(a, b uint16) int16 { return int16(a - b) }

// CompareIDs orders ids in windowed order. It fits comparator based containers.
func CompareIDs(a, b uint32) int {
	switch d := int32(a - b); {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Timestamp is the wire form of a time value: seconds and microseconds.
type Timestamp struct {
	Sec  uint32
	Usec uint32
}

// TimestampFrom converts t to a Timestamp.
func TimestampFrom(t time.Time) Timestamp {
	ns := t.UnixNano()
	return Timestamp{Sec: uint32(ns / 1e9), Usec: uint32((ns % 1e9) / 1e3)}
}

// Time converts the timestamp back to a time value.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Sec), int64(ts.Usec)*1e3)
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool { return ts.Sec == 0 && ts.Usec == 0 }

// Add returns ts shifted by d.
func (ts Timestamp) Add(d time.Duration) Timestamp { return TimestampFrom(ts.Time().Add(d)) }

// Bounds of the quantized round trip time, in seconds.
const (
	RttMin = 1.0e-06
	RttMax = 1000.0

	rttLinearMax = 3.3e-05
)

// QuantizeRtt maps a round trip time in seconds to one byte: linear in
// microseconds below 33us, logarithmic above. Values are clamped to [RttMin, RttMax].
func QuantizeRtt(rtt float64) uint8 {
	if rtt > RttMax {
		rtt = RttMax
	} else if rtt < RttMin {
		rtt = RttMin
	}
	var q int
	if rtt < rttLinearMax {
		q = int(rtt/RttMin) - 1
	} else {
		q = int(math.Ceil(255.0 - 13.0*math.Log(RttMax/rtt)))
	}
	if q < 0 {
		q = 0
	} else if q > 255 {
		q = 255
	}
	return uint8(q)
}

// UnquantizeRtt is the inverse of QuantizeRtt.
func UnquantizeRtt(q uint8) float64 {
	if q < 31 {
		return float64(q+1) * RttMin
	}
	return RttMax / math.Exp(float64(255-int(q))/13.0)
}

// QuantizeLoss maps a loss fraction in [0, 1] to 16 bits.
func QuantizeLoss(loss float64) uint16 {
	if loss <= 0 {
		return 0
	}
	if loss >= 1 {
		return math.MaxUint16
	}
	return uint16(loss*math.MaxUint16 + 0.5)
}

// UnquantizeLoss is the inverse of QuantizeLoss.
func UnquantizeLoss(q uint16) float64 { return float64(q) / math.MaxUint16 }

// Duration converts float seconds to a duration.
func Duration(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
