package session

import (
	"net"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/fec"
	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/store"
	"github.com/skycoin/mdp/pkg/timer"
)

// stallRetry is how long the server waits before retrying a transmission
// that found every buffer in use.
const stallRetry = 10 * time.Millisecond

// server is the transmit side of a Session.
type server struct {
	s   *Session
	cfg *Config

	nextID uint32
	seq    uint16

	pend    *objTable
	repairQ *objTable
	hold    *objTable

	encoder *fec.Encoder
	vectors *buffer.VectorPool
	blocks  *buffer.BlockPool
	scratch []byte

	idle       bool
	closing    bool
	flushTimer *timer.Timer
	flushCount int
	lastSent   uint32
	anySent    bool

	grttState
	reports map[uint32]*protocol.Report
	stats   ServerStats
}

// OpenServer starts the transmit side. Object ids start at firstID.
func (s *Session) OpenServer(firstID uint32) error {
	if s.closed {
		return ErrClosed
	}
	if s.server != nil {
		return ErrServerOpen
	}
	cfg := &s.cfg
	enc, err := fec.NewEncoder(cfg.NParity, cfg.SegmentSize)
	if err != nil {
		return errors.Wrap(err, "encoder")
	}
	nvec := cfg.TxBufferSize / cfg.SegmentSize
	if min := 2 * cfg.NParity; nvec < min {
		nvec = min
	}
	nblk := nvec/maxInt(cfg.NParity, 1) + 2
	sv := &server{
		s:       s,
		cfg:     cfg,
		nextID:  firstID,
		pend:    newObjTable(),
		repairQ: newObjTable(),
		hold:    newObjTable(),
		encoder: enc,
		vectors: buffer.NewVectorPool(nvec, cfg.SegmentSize),
		blocks:  buffer.NewBlockPool(nblk, cfg.NData+cfg.NParity),
		scratch: make([]byte, cfg.SegmentSize),
		idle:    true,
		reports: make(map[uint32]*protocol.Report),
	}
	sv.flushTimer = timer.NewTimer(s.sched, sv.onFlush)
	sv.initGrtt()
	s.server = sv
	log.Infof("Server %08x open: segment=%d ndata=%d nparity=%d auto=%d rate=%.0f.",
		s.id, cfg.SegmentSize, cfg.NData, cfg.NParity, cfg.AutoParity, s.txRate)
	return nil
}

// CloseServer stops the transmit side. A graceful close finishes every
// queued object and flushes with EOT before the server goes away.
func (s *Session) CloseServer(graceful bool) {
	sv := s.server
	if sv == nil {
		return
	}
	if graceful && !sv.closing {
		sv.closing = true
		if sv.idle {
			sv.startFlush()
		}
		return
	}
	sv.shutdown()
}

// QueueTxData queues an in-memory object.
func (s *Session) QueueTxData(info, data []byte) (uint32, error) {
	return s.QueueTxObject(store.MemoryFrom(data), info, 0)
}

// QueueTxFile queues the file at path. The file's base name is the info
// unless info is given.
func (s *Session) QueueTxFile(path string, info []byte) (uint32, error) {
	f, err := store.OpenFile(path)
	if err != nil {
		return 0, err
	}
	if info == nil {
		info = []byte(filepath.Base(path))
	}
	id, err := s.QueueTxObject(f, info, protocol.FlagFile)
	if err != nil {
		f.Close() // nolint: errcheck
	}
	return id, err
}

// QueueTxObject queues data for transmission. flags may carry FlagFile and
// FlagUnreliable. The session closes data when it is done with the object.
func (s *Session) QueueTxObject(data store.ObjectData, info []byte, flags protocol.Flags) (uint32, error) {
	sv := s.server
	if sv == nil {
		return 0, ErrServerClosed
	}
	if sv.closing {
		return 0, ErrServerClosed
	}
	if len(info) > s.cfg.SegmentSize {
		return 0, errors.Errorf("info of %d bytes exceeds the segment size", len(info))
	}
	geom := buffer.Geometry{
		Size:        data.Size(),
		SegmentSize: s.cfg.SegmentSize,
		NData:       s.cfg.NData,
		NParity:     s.cfg.NParity,
	}
	if err := geom.Validate(); err != nil {
		return 0, err
	}
	if geom.Size == 0 && len(info) == 0 {
		return 0, errors.New("empty object without info")
	}
	flags &= protocol.FlagFile | protocol.FlagUnreliable
	if len(info) > 0 {
		flags |= protocol.FlagInfoAvailable
	}
	id := sv.nextID
	o, err := newTxObject(id, geom, flags)
	if err != nil {
		return 0, err
	}
	o.obj.Data = data
	o.obj.Info = append([]byte(nil), info...)
	o.sendInfo = len(info) > 0
	sv.nextID++
	sv.pend.put(id, o)
	sv.wake()
	log.Debugf("Queued object %d: %d bytes in %d blocks.", id, geom.Size, geom.NumBlocks())
	return id, nil
}

// AbortTxObject drops a queued or held object.
func (s *Session) AbortTxObject(id uint32) error {
	sv := s.server
	if sv == nil {
		return ErrServerClosed
	}
	if sv.find(id) == nil {
		return ErrUnknownObject
	}
	s.later(func() {
		if o := sv.find(id); o != nil && s.server == sv {
			sv.finish(o, TxAbort, nil)
		}
	})
	return nil
}

func (sv *server) wake() {
	sv.idle = false
	sv.flushTimer.Stop()
	sv.s.kick()
}

func (sv *server) find(id uint32) *txObject {
	for _, t := range []*objTable{sv.pend, sv.repairQ, sv.hold} {
		if v, ok := t.get(id); ok {
			return v.(*txObject)
		}
	}
	return nil
}

func (sv *server) pending() bool {
	return !sv.pend.empty() || !sv.repairQ.empty()
}

// serve builds the next object message: repairs first, then the first pass
// of the oldest pending object.
func (sv *server) serve() *outMsg {
	for _, t := range []*objTable{sv.repairQ, sv.pend} {
		for _, id := range t.ids() {
			v, ok := t.get(id)
			if !ok {
				continue
			}
			if m := sv.serveObject(v.(*txObject)); m != nil {
				return m
			}
			if sv.s.server != sv {
				return nil
			}
		}
	}
	return nil
}

func (sv *server) serveObject(o *txObject) *outMsg {
	if o.state == txPending {
		o.state = txActive
		sv.s.notify(sv.event(TxStart, o))
		if sv.find(o.id()) == nil {
			return nil
		}
	}
	if o.sendInfo {
		return sv.infoMsg(o)
	}
	if id := o.repair.FirstSet(); o.repair.IsSet() {
		b := o.blocks.Find(uint32(id))
		if b == nil {
			o.repair.Unset(id)
			return sv.serveObject(o)
		}
		m, ok := sv.serveBlock(o, b, false)
		if !ok {
			return nil
		}
		if !b.Mask().IsSet() {
			b.SetParityOffset(minInt(b.ParityOffset()+b.ParityCount(), b.NParity()))
			b.SetParityCount(0)
			o.repair.Unset(id)
		}
		return m
	}
	if o.state == txActive {
		if o.nextBlock >= o.numBlocks() {
			sv.firstPassDone(o)
			return nil
		}
		b := o.blocks.Find(o.nextBlock)
		if b == nil {
			if b = sv.newBlock(o, o.nextBlock); b == nil {
				return nil
			}
			n := b.NData()
			b.Mask().SetRange(0, n+sv.autoParity(b))
			b.SetParityOffset(0)
		}
		m, ok := sv.serveBlock(o, b, true)
		if !ok {
			return nil
		}
		if !b.Mask().IsSet() {
			b.SetParityOffset(sv.autoParity(b))
			o.nextBlock++
			if o.nextBlock >= o.numBlocks() {
				sv.firstPassDone(o)
			}
		}
		return m
	}
	sv.toHold(o)
	return nil
}

func (sv *server) autoParity(b *buffer.Block) int { return minInt(sv.cfg.AutoParity, b.NParity()) }

func (sv *server) nextSeq() uint16 {
	seq := sv.seq
	sv.seq++
	return seq
}

func (sv *server) infoMsg(o *txObject) *outMsg {
	m := sv.s.pool.get()
	if m == nil {
		return nil
	}
	o.sendInfo = false
	h := o.header(sv.nextSeq(), sv.grttQ)
	if o.state != txActive || o.nextBlock > 0 {
		h.Flags |= protocol.FlagRepair
	}
	n := copy(m.payload, o.obj.Info)
	m.msg = protocol.Message{Version: protocol.Version, Sender: sv.s.id, Body: &protocol.Info{
		ObjectHeader: h,
		SegmentSize:  uint16(o.obj.Geom.SegmentSize),
		Payload:      m.payload[:n],
	}}
	m.dst = sv.s.group
	m.object = o.id()
	if o.numBlocks() == 0 && o.state == txActive {
		sv.firstPassDone(o)
	}
	return m
}

// serveBlock builds the message for the lowest pending slot of b. ok is
// false when the message could not be built for lack of buffers.
func (sv *server) serveBlock(o *txObject, b *buffer.Block, firstPass bool) (*outMsg, bool) {
	slot := b.Mask().FirstSet()
	if slot >= b.NumVectors() {
		return nil, false
	}
	ndata := b.NData()
	if slot >= ndata && !b.ParityReady() && !sv.calcParity(o, b) {
		return nil, false
	}
	m := sv.s.pool.get()
	if m == nil {
		return nil, false
	}
	h := o.header(sv.nextSeq(), sv.grttQ)
	if !firstPass {
		h.Flags |= protocol.FlagRepair
	}
	if b.Mask().NextSet(slot+1) >= b.NumVectors() {
		h.Flags |= protocol.FlagBlockEnd
	}
	geom := o.obj.Geom

	if slot < ndata {
		n, err := o.obj.ReadSegment(b.ID(), slot, m.payload)
		if err != nil {
			sv.s.pool.put(m)
			sv.finish(o, TxAbort, errors.Wrapf(err, "read object %d", o.id()))
			return nil, false
		}
		if firstPass && b.Encoded() == slot && b.NParity() > 0 && b.AttachedVectors() == b.NParity() {
			sv.encoder.Encode(m.payload[:n], b.Vectors()[ndata:]) // nolint: errcheck
			b.SetEncoded(slot + 1)
			if slot+1 == ndata {
				b.SetParityReady(true)
			}
		}
		d := &protocol.Data{
			ObjectHeader: h,
			Offset:       uint32(geom.Offset(b.ID(), slot)),
			SegmentSize:  uint16(n),
			Payload:      m.payload[:n],
		}
		if n < geom.SegmentSize {
			d.Flags |= protocol.FlagRunt
			d.SegmentSize = uint16(geom.SegmentSize)
		}
		m.msg = protocol.Message{Version: protocol.Version, Sender: sv.s.id, Body: d}
		sv.stats.DataSent++
	} else {
		p := slot - ndata
		n := copy(m.payload, b.Vector(slot))
		m.msg = protocol.Message{Version: protocol.Version, Sender: sv.s.id, Body: &protocol.Parity{
			ObjectHeader: h,
			Offset:       uint32(geom.Offset(b.ID(), 0)),
			ParityID:     uint8(p),
			Payload:      m.payload[:n],
		}}
		sv.stats.ParitySent++
	}
	if !firstPass {
		sv.stats.RepairsSent++
	}
	b.Mask().Unset(slot)
	o.blocks.Touch(b)
	m.dst = sv.s.group
	m.object = o.id()
	sv.lastSent = o.id()
	sv.anySent = true
	return m, true
}

// newBlock takes a block for o from the pool with zeroed parity vectors
// attached when available.
func (sv *server) newBlock(o *txObject, id uint32) *buffer.Block {
	b := sv.blocks.Get()
	if b == nil && sv.reclaim(o, id) {
		b = sv.blocks.Get()
	}
	if b == nil {
		log.Debugf("No block buffer for object %d block %d.", o.id(), id)
		return nil
	}
	geom := o.obj.Geom
	if err := b.Init(id, geom.BlockLen(id), geom.NParity); err != nil {
		sv.blocks.Put(b)
		log.WithError(err).Warnf("Bad block geometry for object %d.", o.id())
		return nil
	}
	b.SetParityOffset(int(o.parityUsed[id]))
	sv.attachParity(o, b)
	o.blocks.Insert(b)
	return b
}

func (sv *server) attachParity(o *txObject, b *buffer.Block) bool {
	ndata := b.NData()
	for p := 0; p < b.NParity(); p++ {
		if b.Vector(ndata+p) != nil {
			continue
		}
		v := sv.vectors.Get()
		if v == nil && sv.reclaim(o, b.ID()) {
			v = sv.vectors.Get()
		}
		if v == nil {
			for q := 0; q < p; q++ {
				sv.vectors.Put(b.Detach(ndata + q))
			}
			return false
		}
		for i := range v {
			v[i] = 0
		}
		b.Attach(ndata+p, v)
	}
	return true
}

// calcParity computes the parity of b from the object data.
func (sv *server) calcParity(o *txObject, b *buffer.Block) bool {
	if !sv.attachParity(o, b) {
		log.Debugf("No parity buffers for object %d block %d.", o.id(), b.ID())
		return false
	}
	ndata := b.NData()
	parity := b.Vectors()[ndata:]
	for _, v := range parity {
		for i := range v {
			v[i] = 0
		}
	}
	for seg := 0; seg < ndata; seg++ {
		n, err := o.obj.ReadSegment(b.ID(), seg, sv.scratch)
		if err != nil {
			sv.finish(o, TxAbort, errors.Wrapf(err, "read object %d", o.id()))
			return false
		}
		sv.encoder.Encode(sv.scratch[:n], parity) // nolint: errcheck
	}
	b.SetEncoded(ndata)
	b.SetParityReady(true)
	return true
}

func (sv *server) releaseBlock(o *txObject, b *buffer.Block) {
	o.parityUsed[b.ID()] = uint8(b.ParityOffset())
	o.blocks.Remove(b)
	b.Release(sv.vectors)
	sv.blocks.Put(b)
}

// reclaim frees an idle block, from held objects first, then from any other
// object. The block id of the requester is never taken.
func (sv *server) reclaim(requester *txObject, id uint32) bool {
	steal := func(t *objTable) bool {
		var victim *buffer.Block
		var owner *txObject
		t.each(func(_ uint32, v interface{}) bool {
			o := v.(*txObject)
			o.blocks.Range(func(b *buffer.Block) bool {
				if b.Mask().IsSet() || (o == requester && b.ID() == id) {
					return true
				}
				if o == requester && o.state == txActive && b.ID() == o.nextBlock {
					return true
				}
				victim, owner = b, o
				return false
			})
			return victim == nil
		})
		if victim == nil {
			return false
		}
		sv.releaseBlock(owner, victim)
		sv.stats.Reclaims++
		return true
	}
	return steal(sv.hold) || steal(sv.repairQ) || steal(sv.pend)
}

func (sv *server) firstPassDone(o *txObject) {
	if o.state != txActive {
		return
	}
	sv.pend.remove(o.id())
	if o.repair.IsSet() || o.sendInfo {
		o.state = txRepair
		sv.repairQ.put(o.id(), o)
	} else {
		sv.toHold(o)
	}
	sv.s.notify(sv.event(TxFirstPass, o))
}

func (sv *server) toHold(o *txObject) {
	sv.pend.remove(o.id())
	sv.repairQ.remove(o.id())
	o.state = txHeld
	sv.hold.put(o.id(), o)
	for sv.hold.len() > sv.cfg.TxHoldCount {
		_, v, _ := sv.hold.first()
		sv.finish(v.(*txObject), TxFinished, nil)
	}
}

// reactivate moves a held object back to the repair queue.
func (sv *server) reactivate(o *txObject) {
	if o.state == txHeld {
		sv.hold.remove(o.id())
		o.state = txRepair
		sv.repairQ.put(o.id(), o)
		log.Debugf("Reactivated object %d for repair.", o.id())
	}
	sv.wake()
}

// finish drops o and reports ev.
func (sv *server) finish(o *txObject, ev EventType, err error) {
	if sv.find(o.id()) == nil {
		return
	}
	sv.pend.remove(o.id())
	sv.repairQ.remove(o.id())
	sv.hold.remove(o.id())
	o.blocks.Range(func(b *buffer.Block) bool {
		sv.releaseBlock(o, b)
		return true
	})
	for _, m := range sv.s.queue.remove(func(m *outMsg) bool { return m.object == o.id() && m.msg.Type() != protocol.TypeCmd }) {
		sv.s.pool.put(m)
	}
	if cerr := o.obj.Data.Close(); cerr != nil {
		log.WithError(cerr).Warnf("Failed to close object %d.", o.id())
	}
	e := sv.event(ev, o)
	e.Err = err
	if err != nil {
		log.WithError(err).Warnf("Object %d aborted.", o.id())
	}
	sv.s.metrics.ObjectDone("tx", ev == TxFinished)
	if ev == TxFinished {
		sv.stats.Finished++
	} else {
		sv.stats.Aborted++
	}
	sv.s.notify(e)
}

func (sv *server) event(t EventType, o *txObject) Event {
	return Event{
		Type:     t,
		ObjectID: o.id(),
		Size:     o.obj.Geom.Size,
		Info:     o.obj.Info,
		Data:     o.obj.Data,
	}
}

// onIdle runs when the transmit queue has drained.
func (sv *server) onIdle() {
	if sv.pending() {
		sv.s.txTimer.Start(stallRetry, false)
		return
	}
	if sv.idle {
		return
	}
	sv.idle = true
	sv.s.notify(Event{Type: TxQueueEmpty})
	if sv.s.server == sv && sv.idle {
		sv.startFlush()
	}
}

func (sv *server) startFlush() {
	sv.flushCount = 0
	sv.flushTimer.Start(0, false)
}

// onFlush sends one round of FLUSH, or ACK_REQ while acknowledgments are
// outstanding, RobustFactor times at twice the GRTT.
func (sv *server) onFlush() {
	if sv.pending() {
		return
	}
	if sv.flushCount >= sv.cfg.RobustFactor {
		if sv.closing {
			sv.shutdown()
		}
		return
	}
	sv.flushCount++
	if sv.anySent || sv.closing {
		sv.sendFlush()
	}
	sv.flushTimer.Start(protocol.Duration(2*sv.grttValue()), false)
}

func (sv *server) sendFlush() {
	if o := sv.find(sv.lastSent); o != nil && !o.ackDone && len(sv.cfg.AckingNodes) > 0 {
		var nodes []uint32
		for _, n := range sv.cfg.AckingNodes {
			if !o.acked[n] {
				nodes = append(nodes, n)
			}
		}
		sv.s.enqueue(&protocol.AckReq{GRTT: sv.grttQ, ObjectID: o.id(), Nodes: nodes}, sv.s.group) // nolint: errcheck
		return
	}
	f := &protocol.Flush{GRTT: sv.grttQ, ObjectID: sv.lastSent}
	if !sv.anySent {
		f.ObjectID = sv.nextID - 1
	}
	if sv.closing {
		f.Flags |= protocol.FlushEOT
	}
	sv.s.enqueue(f, sv.s.group) // nolint: errcheck
}

func (sv *server) shutdown() {
	s := sv.s
	for _, t := range []*objTable{sv.pend, sv.repairQ} {
		for _, id := range t.ids() {
			if v, ok := t.get(id); ok {
				sv.finish(v.(*txObject), TxAbort, nil)
			}
		}
	}
	for _, id := range sv.hold.ids() {
		if v, ok := sv.hold.get(id); ok {
			sv.finish(v.(*txObject), TxFinished, nil)
		}
	}
	sv.flushTimer.Stop()
	sv.stopGrtt()
	for _, m := range s.queue.remove(func(m *outMsg) bool { return m.msg.Type() != protocol.TypeNack && m.msg.Type() != protocol.TypeAck }) {
		s.pool.put(m)
	}
	if s.server == sv {
		s.server = nil
	}
	log.Infof("Server %08x closed.", s.id)
}

// handle processes client feedback.
func (sv *server) handle(msg *protocol.Message, from net.Addr) {
	switch m := msg.Body.(type) {
	case *protocol.Nack:
		if m.ServerID != sv.s.id {
			return
		}
		sv.stats.NacksReceived++
		sv.feedback(msg.Sender, &m.Feedback)
		sv.onNack(msg.Sender, m.Content)
	case *protocol.Ack:
		if m.ServerID != sv.s.id {
			return
		}
		sv.feedback(msg.Sender, &m.Feedback)
		if m.AckType == protocol.AckObject {
			sv.onAck(msg.Sender, m.ObjectID)
		}
	case *protocol.Report:
		r := *m
		sv.reports[msg.Sender] = &r
		log.Debugf("Report from %08x (%s).", msg.Sender, m.Name)
	}
}

func (sv *server) onAck(node, id uint32) {
	o := sv.find(id)
	if o == nil || o.ackDone {
		return
	}
	acking := false
	for _, n := range sv.cfg.AckingNodes {
		if n == node {
			acking = true
		}
	}
	if !acking {
		return
	}
	o.acked[node] = true
	for _, n := range sv.cfg.AckingNodes {
		if !o.acked[n] {
			return
		}
	}
	o.ackDone = true
	sv.s.notify(sv.event(TxAckComplete, o))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
