package session

import (
	"net"
	"time"

	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/timer"
)

// client is the receive side of a Session. It keeps one remoteServer per
// server it hears.
type client struct {
	s           *Session
	nodes       map[uint32]*remoteServer
	reportTimer *timer.Timer
	started     time.Time
}

// OpenClient starts receiving from every server on the group.
func (s *Session) OpenClient() error {
	if s.closed {
		return ErrClosed
	}
	if s.client != nil {
		return ErrClientOpen
	}
	c := &client{s: s, nodes: make(map[uint32]*remoteServer), started: s.sched.Now()}
	c.reportTimer = timer.NewTimer(s.sched, c.onReport)
	if s.cfg.ReportInterval > 0 {
		c.reportTimer.Start(s.cfg.ReportInterval, true)
	}
	s.client = c
	log.Infof("Client %08x open (emcon=%v unicast=%v).", s.id, s.cfg.Emcon, s.cfg.UnicastNacks)
	return nil
}

// CloseClient stops receiving. Objects still in progress are aborted.
func (s *Session) CloseClient() {
	c := s.client
	if c == nil {
		return
	}
	for _, n := range c.nodes {
		c.deleteNode(n)
	}
	c.reportTimer.Stop()
	s.client = nil
	log.Infof("Client %08x closed.", s.id)
}

// AbortRxObject abandons an object being received from server node.
func (s *Session) AbortRxObject(node, id uint32) error {
	c := s.client
	if c == nil {
		return ErrUnknownObject
	}
	n := c.nodes[node]
	if n == nil || n.object(id) == nil {
		return ErrUnknownObject
	}
	s.later(func() {
		if o := n.object(id); o != nil {
			o.abort(nil)
			n.advanceSync()
		}
	})
	return nil
}

func (c *client) handle(msg *protocol.Message, from net.Addr) {
	if r, ok := msg.Body.(*protocol.Report); ok {
		log.Debugf("Server report from %08x (%s).", msg.Sender, r.Name)
		return
	}
	n := c.nodes[msg.Sender]
	if n == nil {
		n = c.newRemoteServer(msg.Sender, from)
		c.nodes[msg.Sender] = n
	} else if from != nil && (n.addr == nil || n.addr.String() != from.String()) {
		log.Debugf("Remote server %08x moved to %s.", msg.Sender, from)
		n.addr = from
	}
	n.handle(msg)
}

// overhear feeds a NACK another client sent to server into its suppression state.
func (c *client) overhear(server uint32, content []byte) {
	if n := c.nodes[server]; n != nil {
		n.overhear(content)
	}
}

func (c *client) deleteNode(n *remoteServer) {
	n.release()
	delete(c.nodes, n.id)
	log.Infof("Remote server %08x deleted.", n.id)
}

// onReport sends the periodic client status report.
func (c *client) onReport() {
	s := c.s
	st := protocol.ClientStats{
		Duration: uint32(s.sched.Now().Sub(c.started) / time.Second),
		TxRate:   uint32(s.sent.rate(s.sched.Now().Sub(c.started))),
		RxRate:   uint32(s.received.rate(s.sched.Now().Sub(c.started))),
	}
	var goodput int64
	for _, n := range c.nodes {
		ns := &n.stats
		st.Success += uint32(ns.Completed)
		st.Fail += uint32(ns.Failed)
		st.Resync += uint32(ns.Resyncs)
		st.Active += uint32(n.objects.len())
		st.NackCount += uint32(ns.NacksSent)
		st.SuppressedCount += uint32(ns.Suppressed)
		st.BufferOverflow += uint32(ns.BufferOverflows)
		for i := range st.BlockLoss {
			st.BlockLoss[i] += uint32(ns.BlockLoss[i])
		}
		if n.vectors != nil {
			st.BufferTotal += uint32(n.vectors.Total() * n.segSize)
			st.BufferPeak += uint32(n.vectors.Peak() * n.segSize)
		}
		goodput += ns.BytesCompleted
	}
	if d := st.Duration; d > 0 {
		st.Goodput = uint32(goodput / int64(d))
	}
	r := &protocol.Report{Status: protocol.ReportClient, Name: s.cfg.NodeName, Stats: &st}
	if err := s.enqueue(r, s.group); err != nil {
		log.WithError(err).Debug("Report not sent.")
	}
}
