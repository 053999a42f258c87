package session

import (
	"sort"
	"time"
)

// Counter counts packets and their bytes.
type Counter struct {
	Packets uint64
	Bytes   uint64
}

func (c *Counter) add(n int) {
	c.Packets++
	c.Bytes += uint64(n)
}

// rate returns the average bytes per second over d.
func (c Counter) rate(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(c.Bytes) / d.Seconds()
}

// ServerStats counts transmit side activity.
type ServerStats struct {
	DataSent      uint64
	ParitySent    uint64
	RepairsSent   uint64
	NacksReceived uint64
	GrttResponses uint64
	Squelches     uint64
	Reclaims      uint64
	Finished      uint64
	Aborted       uint64

	Pending int
	Held    int
	Clients int // nodes that sent a REPORT
}

// blockLossBuckets are the upper bounds, in percent of a block's data
// segments, of the REPORT block loss histogram.
var blockLossBuckets = [7]int{1, 5, 10, 20, 40, 80, 100}

// NodeStats describes the reception from one remote server.
type NodeStats struct {
	ID      uint32
	Addr    string
	Started time.Time
	GRTT    time.Duration
	Loss    float64

	Received        uint64 // object messages
	Duplicates      uint64
	Resyncs         uint64
	NacksSent       uint64
	AcksSent        uint64
	Suppressed      uint64
	Decoded         uint64
	Reclaims        uint64
	BufferOverflows uint64
	// BlockLoss counts blocks that needed decoding by erasure ratio, see blockLossBuckets.
	BlockLoss [7]uint64

	Completed      uint64
	Failed         uint64
	BytesCompleted int64

	Active   int
	Buffered int64
}

func (ns *NodeStats) recordBlockLoss(erased, ndata int) {
	if erased <= 0 || ndata <= 0 {
		return
	}
	pct := erased * 100 / ndata
	for i, max := range blockLossBuckets {
		if pct <= max {
			ns.BlockLoss[i]++
			return
		}
	}
}

// Stats is a snapshot of session activity.
type Stats struct {
	ID       uint32
	Uptime   time.Duration
	Sent     Counter
	Received Counter
	TxRate   float64 // bytes per second
	Queued   int

	Server *ServerStats `json:",omitempty"`
	Nodes  []NodeStats  `json:",omitempty"`
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		ID:       s.id,
		Uptime:   s.sched.Now().Sub(s.started),
		Sent:     s.sent,
		Received: s.received,
		TxRate:   s.txRate,
		Queued:   s.queue.len(),
	}
	if sv := s.server; sv != nil {
		ss := sv.stats
		ss.Pending = sv.pend.len() + sv.repairQ.len()
		ss.Held = sv.hold.len()
		ss.Clients = len(sv.reports)
		st.Server = &ss
	}
	if c := s.client; c != nil {
		for _, n := range c.nodes {
			ns := n.stats
			ns.ID = n.id
			if n.addr != nil {
				ns.Addr = n.addr.String()
			}
			ns.GRTT = time.Duration(n.grtt * float64(time.Second))
			ns.Loss = n.loss.LossEventFraction()
			ns.Active = n.objects.len()
			n.objects.each(func(_ uint32, v interface{}) bool {
				ns.Buffered += v.(*rxObject).bufferedBytes()
				return true
			})
			st.Nodes = append(st.Nodes, ns)
		}
		sort.Slice(st.Nodes, func(i, j int) bool { return st.Nodes[i].ID < st.Nodes[j].ID })
	}
	return st
}
