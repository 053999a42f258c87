package session

import (
	"net"
	"time"

	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/cc"
	"github.com/skycoin/mdp/pkg/fec"
	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/timer"
)

// SeqStatus classifies an object id against a remote server's sync window.
type SeqStatus uint8

// Sequence check results.
const (
	SeqInvalid SeqStatus = iota
	SeqComplete
	SeqPending
	SeqNew
)

func (st SeqStatus) String() string {
	switch st {
	case SeqInvalid:
		return "INVALID"
	case SeqComplete:
		return "COMPLETE"
	case SeqPending:
		return "PENDING"
	case SeqNew:
		return "NEW"
	}
	return "UNKNOWN"
}

// allBlocks marks every block of the current object as passed.
const allBlocks = ^uint32(0)

type grttProbe struct {
	valid    bool
	seq      uint8
	sendTime protocol.Timestamp
	recvTime time.Time
}

// remoteServer is the client's record of one server it receives from.
type remoteServer struct {
	c    *client
	id   uint32
	addr net.Addr

	synced  bool
	syncID  uint32 // lowest id still tracked
	high    uint32 // highest id tracked
	pending bitmask.SlidingBitField
	objects *objTable

	segSize  int
	vectors  *buffer.VectorPool
	blocks   *buffer.BlockPool
	decoders map[int]*fec.Decoder
	erasures bitmask.BitField

	grtt  float64
	grttQ uint8
	loss  *cc.LossEventEstimator
	probe grttProbe

	// server position: objects before curObj and blocks of curObj before
	// curBlock have been sent at least once.
	posValid bool
	curObj   uint32
	curBlock uint32

	repairState   repairState
	repairTimer   *timer.Timer
	ackTimer      *timer.Timer
	activityTimer *timer.Timer
	active        bool
	idleCount     int
	suppressObj   map[uint32]bool
	nackBuf       []byte

	eot   bool
	stats NodeStats
}

func (c *client) newRemoteServer(id uint32, addr net.Addr) *remoteServer {
	s := c.s
	n := &remoteServer{
		c:           c,
		id:          id,
		addr:        addr,
		objects:     newObjTable(),
		decoders:    make(map[int]*fec.Decoder),
		loss:        cc.NewLossEventEstimator(),
		suppressObj: make(map[uint32]bool),
		nackBuf:     make([]byte, s.cfg.NackBufferSize),
		active:      true,
	}
	n.pending.Init(64, s.cfg.RxWindow) // nolint: errcheck
	n.setGrtt(protocol.QuantizeRtt(s.cfg.GrttInitial))
	n.repairTimer = timer.NewTimer(s.sched, n.onRepairTimeout)
	n.ackTimer = timer.NewTimer(s.sched, n.sendGrttAck)
	n.activityTimer = timer.NewTimer(s.sched, n.onActivityTimeout)
	n.activityTimer.Start(n.activityInterval(), false)
	n.stats.Started = s.sched.Now()
	log.Infof("New remote server %08x at %s.", id, addr)
	return n
}

func (n *remoteServer) setGrtt(q uint8) {
	if q == n.grttQ && n.grtt > 0 {
		return
	}
	n.grttQ = q
	n.grtt = protocol.UnquantizeRtt(q)
	n.loss.SetEventWindow(protocol.Duration(n.grtt))
}

func (n *remoteServer) activityInterval() time.Duration {
	cfg := &n.c.s.cfg
	d := protocol.Duration(2 * float64(cfg.RobustFactor) * n.grtt)
	if d < cfg.ActivityMin {
		d = cfg.ActivityMin
	}
	return d
}

// ensureBuffers sizes the node's arenas on the first object message.
func (n *remoteServer) ensureBuffers(segSize, ndata, nparity int) bool {
	if n.vectors != nil {
		return segSize <= n.segSize
	}
	cfg := &n.c.s.cfg
	count := cfg.RxBufferSize / segSize
	if min := ndata + nparity; count < min {
		count = min
	}
	n.segSize = segSize
	n.vectors = buffer.NewVectorPool(count, segSize)
	n.blocks = buffer.NewBlockPool(count/ndata+2, fec.MaxCodeword)
	return true
}

func (n *remoteServer) decoder(nparity int) *fec.Decoder {
	d, ok := n.decoders[nparity]
	if !ok {
		var err error
		if d, err = fec.NewDecoder(nparity, n.segSize); err != nil {
			return nil
		}
		n.decoders[nparity] = d
	}
	return d
}

func (n *remoteServer) object(id uint32) *rxObject {
	if v, ok := n.objects.get(id); ok {
		return v.(*rxObject)
	}
	return nil
}

// sequenceCheck classifies id against the sync window.
func (n *remoteServer) sequenceCheck(id uint32) SeqStatus {
	if !n.synced {
		return SeqNew
	}
	window := int32(n.c.s.cfg.RxWindow)
	if d := protocol.Delta(id, n.syncID); d < 0 {
		if -d <= window {
			return SeqComplete
		}
		return SeqInvalid
	}
	if !protocol.After(id, n.high) {
		if n.pending.Test(id) {
			return SeqPending
		}
		return SeqComplete
	}
	if protocol.Delta(id, n.syncID) >= window {
		return SeqInvalid
	}
	return SeqNew
}

// track adds id, and every id between the window top and id, to the pending set.
func (n *remoteServer) track(id uint32) {
	if !n.synced {
		n.synced = true
		n.syncID = id
		n.high = id - 1
	}
	if !protocol.After(id, n.high) {
		return
	}
	if err := n.pending.SetRange(n.high+1, int(id-n.high)); err != nil {
		log.Debugf("Sync window overflow at %d, resyncing.", id)
		n.hardSync(id)
		n.pending.Set(id) // nolint: errcheck
	}
	n.high = id
}

// sync drops every pending object before id.
func (n *remoteServer) sync(id uint32) {
	if !n.synced {
		n.synced = true
		n.syncID = id
		n.high = id - 1
		return
	}
	for p, ok := n.pending.FirstSet(); ok && protocol.Before(p, id); p, ok = n.pending.FirstSet() {
		n.pending.Unset(p)
		if o := n.object(p); o != nil {
			o.abort(nil)
		}
	}
	if protocol.After(id, n.syncID) {
		n.syncID = id
	}
	if protocol.Before(n.high, n.syncID-1) {
		n.high = n.syncID - 1
	}
	n.pending.Compact()
}

// hardSync abandons every pending object and restarts the window at id.
func (n *remoteServer) hardSync(id uint32) {
	for _, oid := range n.objects.ids() {
		if o := n.object(oid); o != nil {
			o.abort(nil)
		}
	}
	n.pending.Clear()
	n.synced = true
	n.syncID = id
	n.high = id - 1
	n.stats.Resyncs++
}

// advanceSync moves syncID past delivered ids after id left the pending set.
func (n *remoteServer) advanceSync() {
	if p, ok := n.pending.FirstSet(); ok {
		n.syncID = p
	} else {
		n.syncID = n.high + 1
	}
}

// advance moves the known server position forward.
func (n *remoteServer) advance(id, block uint32) {
	if !n.posValid || protocol.After(id, n.curObj) {
		n.posValid = true
		n.curObj = id
		n.curBlock = block
		return
	}
	if id == n.curObj && block > n.curBlock {
		n.curBlock = block
	}
}

func (n *remoteServer) hasPending() bool { return n.pending.IsSet() }

// handle processes a message from the server.
func (n *remoteServer) handle(msg *protocol.Message) {
	n.active = true
	switch m := msg.Body.(type) {
	case protocol.ObjectBody:
		n.onObject(m)
	case *protocol.Flush:
		n.setGrtt(m.GRTT)
		n.onFlush(m)
	case *protocol.Squelch:
		n.setGrtt(m.GRTT)
		n.onSquelch(m)
	case *protocol.AckReq:
		n.setGrtt(m.GRTT)
		n.onAckReq(m)
	case *protocol.GrttReq:
		n.setGrtt(m.GRTT)
		n.onGrttReq(m)
	case *protocol.NackAdv:
		n.setGrtt(m.GRTT)
		n.overhear(m.Content)
	}
}

func (n *remoteServer) onObject(body protocol.ObjectBody) {
	h := body.Object()
	now := n.c.s.sched.Now()
	n.setGrtt(h.GRTT)
	n.loss.Update(now, h.Sequence)
	n.stats.Received++

	id := h.ObjectID
	switch n.sequenceCheck(id) {
	case SeqInvalid:
		if !protocol.After(id, n.high) {
			return
		}
		n.hardSync(id)
		n.track(id)
	case SeqComplete:
		n.stats.Duplicates++
		return
	case SeqNew:
		n.track(id)
	}

	o := n.object(id)
	if o == nil {
		if o = n.newObject(body); o == nil {
			return
		}
	}
	if !h.Flags.Has(protocol.FlagRepair) {
		block := uint32(0)
		switch m := body.(type) {
		case *protocol.Data:
			block, _, _ = o.obj.Geom.Locate(int64(m.Offset))
		case *protocol.Parity:
			block = uint32(int64(m.Offset) / o.obj.Geom.BlockBytes())
		}
		if h.Flags.Has(protocol.FlagBlockEnd) {
			block++
		}
		n.advance(id, block)
	}

	switch m := body.(type) {
	case *protocol.Info:
		o.onInfo(m)
	case *protocol.Data:
		o.onData(m)
	case *protocol.Parity:
		o.onParity(m)
	}
	n.repairCheck()
}

func (n *remoteServer) onFlush(m *protocol.Flush) {
	if m.Flags&protocol.FlushEOT != 0 && !n.eot {
		n.eot = true
		log.Infof("Remote server %08x finished.", n.id)
	}
	if !n.synced {
		return
	}
	if n.sequenceCheck(m.ObjectID) == SeqNew {
		n.track(m.ObjectID)
	}
	n.advance(m.ObjectID, allBlocks)
	n.repairCheck()
}

func (n *remoteServer) onSquelch(m *protocol.Squelch) {
	for _, id := range m.IDs {
		if !n.pending.Test(id) {
			continue
		}
		n.pending.Unset(id)
		if o := n.object(id); o != nil {
			o.abort(nil)
		}
	}
	n.sync(m.SyncID)
	n.advanceSync()
}

func (n *remoteServer) onAckReq(m *protocol.AckReq) {
	cfg := &n.c.s.cfg
	if cfg.Emcon {
		return
	}
	listed := false
	for _, id := range m.Nodes {
		if id == n.c.s.id {
			listed = true
		}
	}
	if !listed {
		return
	}
	switch n.sequenceCheck(m.ObjectID) {
	case SeqComplete:
		n.sendAck(protocol.AckObject, m.ObjectID)
	case SeqPending:
		n.advance(m.ObjectID, allBlocks)
		n.repairCheck()
	}
}

func (n *remoteServer) onGrttReq(m *protocol.GrttReq) {
	s := n.c.s
	n.probe = grttProbe{valid: true, seq: m.Seq, sendTime: m.SendTime, recvTime: s.sched.Now()}
	if s.cfg.Emcon || n.repairState == repairBackoff {
		return
	}
	hold := stampDuration(m.HoldTime)
	for _, id := range m.Nodes {
		if id == s.id {
			hold = 0
		}
	}
	if hold > 0 {
		hold = time.Duration(s.rand.Int63n(int64(hold) + 1))
	}
	n.ackTimer.Start(hold, false)
}

// grttResponse returns the probe echo for outgoing feedback, once per probe.
func (n *remoteServer) grttResponse() (protocol.Timestamp, uint8) {
	if !n.probe.valid {
		return protocol.Timestamp{}, 0
	}
	n.probe.valid = false
	n.ackTimer.Stop()
	held := n.c.s.sched.Now().Sub(n.probe.recvTime)
	return n.probe.sendTime.Add(held), n.probe.seq
}

func (n *remoteServer) feedback() protocol.Feedback {
	resp, seq := n.grttResponse()
	return protocol.Feedback{
		ServerID:     n.id,
		GrttResponse: resp,
		Loss:         protocol.QuantizeLoss(n.loss.LossEventFraction()),
		GrttReqSeq:   seq,
	}
}

func (n *remoteServer) feedbackAddr() net.Addr {
	if n.c.s.cfg.UnicastNacks && n.addr != nil {
		return n.addr
	}
	return n.c.s.group
}

func (n *remoteServer) sendGrttAck() {
	if !n.probe.valid {
		return
	}
	n.sendAck(protocol.AckGrtt, 0)
}

func (n *remoteServer) sendAck(t protocol.AckType, id uint32) {
	ack := &protocol.Ack{Feedback: n.feedback(), AckType: t, ObjectID: id}
	if err := n.c.s.enqueue(ack, n.feedbackAddr()); err != nil {
		log.WithError(err).Debug("ACK not sent.")
		return
	}
	n.stats.AcksSent++
}

func (n *remoteServer) onActivityTimeout() {
	if n.active {
		n.active = false
		n.idleCount = 0
	} else {
		n.idleCount++
		if n.hasPending() {
			n.advance(n.high, allBlocks)
			n.repairCheck()
		}
		if n.idleCount >= n.c.s.cfg.RobustFactor {
			n.idleCount = 0
			n.c.s.notify(Event{Type: RemoteServerInactive, Node: n.id})
			if n.c.nodes[n.id] != n {
				return
			}
			if !n.hasPending() {
				n.c.deleteNode(n)
				return
			}
		}
	}
	n.activityTimer.Start(n.activityInterval(), false)
}

// release aborts every pending object and stops the node's timers.
func (n *remoteServer) release() {
	for _, id := range n.objects.ids() {
		if o := n.object(id); o != nil {
			o.abort(nil)
		}
	}
	n.repairTimer.Stop()
	n.ackTimer.Stop()
	n.activityTimer.Stop()
}
