package cc

import (
	"math"
	"math/rand"
)

// TfrcRate returns the TCP friendly sending rate in bytes per second for
// segment size s (bytes), round trip time rtt (seconds) and loss event rate p.
// A zero loss rate has no equation bound and yields +Inf.
func TfrcRate(s, rtt, p float64) float64 {
	if p <= 0 {
		return math.Inf(1)
	}
	if rtt <= 0 {
		rtt = 1e-3
	}
	rto := 4 * rtt
	denom := rtt*math.Sqrt(2*p/3) + rto*(3*math.Sqrt(3*p/8))*p*(1+32*p*p)
	return s / denom
}

// Erand draws a backoff in [0, max] that concentrates toward max as the
// group grows, so that for a group of groupSize receivers few fire early.
// A nil r uses the global source.
func Erand(r *rand.Rand, max, groupSize float64) float64 {
	if max <= 0 {
		return 0
	}
	if groupSize < 1 {
		groupSize = 1
	}
	lambda := math.Log(groupSize) + 1
	u := rand.Float64
	if r != nil {
		u = r.Float64
	}
	el := math.Exp(lambda) - 1
	x := u()*(lambda/max) + lambda/(max*el)
	v := (max / lambda) * math.Log(x*el*(max/lambda))
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
