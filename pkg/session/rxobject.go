package session

import (
	"github.com/pkg/errors"

	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/store"
)

// rxObject is an object being received from a remote server.
type rxObject struct {
	n     *remoteServer
	obj   buffer.Object
	flags protocol.Flags

	hasInfo bool
	// pending marks the blocks not yet recovered.
	pending bitmask.BitField
	// suppressed marks blocks overheard in other NACKs this repair cycle.
	suppressed     bitmask.BitField
	infoSuppressed bool
	objSuppressed  bool

	blocks   *buffer.BlockBuffer
	received int64 // data bytes written and tracked
	done     bool
}

// segmentSize derives the object segment size from the first message of an object.
func segmentSize(body protocol.ObjectBody) int {
	switch m := body.(type) {
	case *protocol.Info:
		return int(m.SegmentSize)
	case *protocol.Data:
		return int(m.SegmentSize)
	case *protocol.Parity:
		return len(m.Payload)
	}
	return 0
}

func (n *remoteServer) newObject(body protocol.ObjectBody) *rxObject {
	s := n.c.s
	h := body.Object()
	segSize := segmentSize(body)
	geom := buffer.Geometry{
		Size:        int64(h.ObjectSize),
		SegmentSize: segSize,
		NData:       int(h.NData),
		NParity:     int(h.NParity),
	}
	if err := geom.Validate(); err != nil {
		log.WithError(err).Debugf("Dropped object %d from %08x.", h.ObjectID, n.id)
		s.metrics.PacketDropped("geometry")
		return nil
	}
	if !n.ensureBuffers(segSize, geom.NData, geom.NParity) {
		log.Debugf("Object %d from %08x exceeds the buffered segment size.", h.ObjectID, n.id)
		s.metrics.PacketDropped("geometry")
		return nil
	}
	o := &rxObject{
		n:      n,
		obj:    buffer.Object{ID: h.ObjectID, Geom: geom},
		flags:  h.Flags,
		blocks: buffer.NewBlockBuffer(),
	}
	nb := int(geom.NumBlocks())
	o.pending.Init(maxInt(nb, 1))    // nolint: errcheck
	o.suppressed.Init(maxInt(nb, 1)) // nolint: errcheck
	o.pending.SetRange(0, nb)

	meta := store.Meta{
		Sender:   n.id,
		ObjectID: h.ObjectID,
		Size:     geom.Size,
		File:     h.Flags.Has(protocol.FlagFile),
	}
	if info, ok := body.(*protocol.Info); ok {
		meta.Info = info.Payload
	}
	data, err := s.factory.Open(meta)
	if err != nil {
		n.pending.Unset(h.ObjectID)
		n.advanceSync()
		n.stats.Failed++
		s.metrics.ObjectDone("rx", false)
		log.WithError(err).Warnf("Failed to open sink for object %d from %08x.", h.ObjectID, n.id)
		s.notify(Event{Type: RxAbort, Node: n.id, ObjectID: h.ObjectID, Size: geom.Size, Err: err})
		return nil
	}
	o.obj.Data = data
	n.objects.put(o.id(), o)
	log.Debugf("Receiving object %d from %08x: %d bytes in %d blocks.", o.id(), n.id, geom.Size, nb)
	s.notify(o.event(RxStart))
	if o.done {
		return nil
	}
	return o
}

func (o *rxObject) id() uint32 { return o.obj.ID }

func (o *rxObject) numBlocks() uint32 { return o.obj.Geom.NumBlocks() }

func (o *rxObject) infoPending() bool {
	return o.flags.Has(protocol.FlagInfoAvailable) && !o.hasInfo
}

// bufferedBytes returns the bytes o holds in vectors.
func (o *rxObject) bufferedBytes() int64 {
	var total int64
	o.blocks.Range(func(b *buffer.Block) bool {
		total += int64(b.AttachedVectors() * o.n.segSize)
		return true
	})
	return total
}

func (o *rxObject) reliable() bool { return !o.flags.Has(protocol.FlagUnreliable) }

func (o *rxObject) event(t EventType) Event {
	return Event{
		Type:     t,
		Node:     o.n.id,
		ObjectID: o.id(),
		Size:     o.obj.Geom.Size,
		Received: o.received,
		Info:     o.obj.Info,
		Data:     o.obj.Data,
	}
}

func (o *rxObject) onInfo(m *protocol.Info) {
	if o.hasInfo || !o.flags.Has(protocol.FlagInfoAvailable) {
		return
	}
	o.hasInfo = true
	o.obj.Info = append([]byte(nil), m.Payload...)
	o.n.c.s.notify(o.event(RxInfo))
	if !o.done {
		o.checkComplete()
	}
}

func (o *rxObject) onData(m *protocol.Data) {
	n := o.n
	g := o.obj.Geom
	id, seg, ok := g.Locate(int64(m.Offset))
	if !ok || len(m.Payload) != g.SegmentLen(id, seg) {
		log.Debugf("Bad data segment at %d for object %d.", m.Offset, o.id())
		n.c.s.metrics.PacketDropped("segment")
		return
	}
	if !o.pending.Test(int(id)) {
		n.stats.Duplicates++
		return
	}
	b := o.block(id)
	if b == nil {
		n.stats.BufferOverflows++
		return
	}
	if b.IsFilled(seg) {
		n.stats.Duplicates++
		return
	}
	if err := o.obj.WriteSegment(id, seg, m.Payload); err != nil {
		o.fail(errors.Wrapf(err, "write object %d", o.id()))
		return
	}
	var v []byte
	if b.NParity() > 0 && b.Erasures() > 0 {
		if v = n.vectors.Get(); v != nil {
			copyVector(v, m.Payload)
		}
	}
	b.Fill(seg, v)
	o.received += int64(len(m.Payload))
	o.blocks.Touch(b)
	o.blockCheck(b)
}

func (o *rxObject) onParity(m *protocol.Parity) {
	n := o.n
	g := o.obj.Geom
	if int64(m.Offset)%g.BlockBytes() != 0 || len(m.Payload) != g.SegmentSize || int(m.ParityID) >= g.NParity {
		log.Debugf("Bad parity segment at %d for object %d.", m.Offset, o.id())
		n.c.s.metrics.PacketDropped("segment")
		return
	}
	id := uint32(int64(m.Offset) / g.BlockBytes())
	if id >= o.numBlocks() {
		n.c.s.metrics.PacketDropped("segment")
		return
	}
	if !o.pending.Test(int(id)) {
		n.stats.Duplicates++
		return
	}
	b := o.block(id)
	if b == nil {
		n.stats.BufferOverflows++
		return
	}
	slot := b.NData() + int(m.ParityID)
	if b.IsFilled(slot) {
		n.stats.Duplicates++
		return
	}
	v := n.vectors.Get()
	if v == nil && n.reclaim(o, id) {
		v = n.vectors.Get()
	}
	if v == nil || o.done {
		log.Debugf("No vector for parity of object %d block %d.", o.id(), id)
		n.stats.BufferOverflows++
		n.vectors.Put(v)
		return
	}
	// the reclaim may have taken this very block
	if o.blocks.Find(id) != b {
		n.vectors.Put(v)
		n.stats.BufferOverflows++
		return
	}
	copyVector(v, m.Payload)
	b.Fill(slot, v)
	o.blocks.Touch(b)
	o.blockCheck(b)
}

func copyVector(dst, src []byte) {
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// block returns the buffered block id, taking one from the pool when needed.
func (o *rxObject) block(id uint32) *buffer.Block {
	if b := o.blocks.Find(id); b != nil {
		return b
	}
	n := o.n
	b := n.blocks.Get()
	if b == nil && n.reclaim(o, id) {
		b = n.blocks.Get()
	}
	if b == nil || o.done {
		n.blocks.Put(b)
		log.Debugf("No block buffer for object %d block %d.", o.id(), id)
		return nil
	}
	g := o.obj.Geom
	if err := b.Init(id, g.BlockLen(id), g.NParity); err != nil {
		n.blocks.Put(b)
		log.WithError(err).Warnf("Bad block geometry for object %d.", o.id())
		return nil
	}
	o.blocks.Insert(b)
	return b
}

// blockCheck completes b once it holds every data segment, or enough
// segments to decode the rest.
func (o *rxObject) blockCheck(b *buffer.Block) {
	switch {
	case b.FilledData() == b.NData():
		o.blockDone(b, 0)
	case b.IsComplete():
		o.decode(b)
	}
}

// decode rebuilds the missing data segments of b from its parity.
func (o *rxObject) decode(b *buffer.Block) {
	n := o.n
	g := o.obj.Geom
	id := b.ID()
	dec := n.decoder(b.NParity())
	if dec == nil {
		o.releaseBlock(b, true)
		return
	}
	// vectors for data that went straight to the sink, plus zeroed erasures
	need := 0
	for i := 0; i < b.NData(); i++ {
		if b.Vector(i) == nil {
			need++
		}
	}
	for n.vectors.Free() < need {
		if !n.reclaim(o, id) || o.done {
			break
		}
	}
	if o.done || o.blocks.Find(id) != b {
		return
	}
	if n.vectors.Free() < need {
		log.Debugf("No vectors to decode object %d block %d.", o.id(), id)
		n.stats.BufferOverflows++
		o.releaseBlock(b, true)
		return
	}
	for i := 0; i < b.NData(); i++ {
		if !b.IsFilled(i) || b.Vector(i) != nil {
			continue
		}
		v := n.vectors.Get()
		k, err := o.obj.ReadSegment(id, i, v)
		if err != nil {
			n.vectors.Put(v)
			o.fail(errors.Wrapf(err, "read object %d", o.id()))
			return
		}
		copyVector(v, v[:k])
		b.Attach(i, v)
	}
	if err := b.FillZero(n.vectors); err != nil {
		o.releaseBlock(b, true)
		return
	}
	b.ErasureMask(&n.erasures)
	erased := b.NData() - b.FilledData()
	if err := dec.Decode(b.Vectors(), b.NData(), n.erasures.Mask(b.NumVectors())); err != nil {
		log.WithError(err).Warnf("Failed to decode object %d block %d.", o.id(), id)
		o.releaseBlock(b, true)
		return
	}
	for i := 0; i < b.NData(); i++ {
		if b.IsFilled(i) {
			continue
		}
		k := g.SegmentLen(id, i)
		if err := o.obj.WriteSegment(id, i, b.Vector(i)[:k]); err != nil {
			o.fail(errors.Wrapf(err, "write object %d", o.id()))
			return
		}
		o.received += int64(k)
	}
	n.stats.Decoded++
	o.blockDone(b, erased)
}

// blockDone retires a recovered block. erased is the number of data
// segments recovered by decoding.
func (o *rxObject) blockDone(b *buffer.Block, erased int) {
	n := o.n
	n.stats.recordBlockLoss(erased, b.NData())
	o.pending.Unset(int(b.ID()))
	o.releaseBlock(b, false)
	n.c.s.notify(o.event(RxUpdate))
	if !o.done {
		o.checkComplete()
	}
}

// releaseBlock returns b and its vectors to the pools. Segments of a stolen
// block no longer count as received.
func (o *rxObject) releaseBlock(b *buffer.Block, stolen bool) {
	n := o.n
	g := o.obj.Geom
	if stolen {
		for i := 0; i < b.NData(); i++ {
			if b.IsFilled(i) && o.pending.Test(int(b.ID())) {
				o.received -= int64(g.SegmentLen(b.ID(), i))
			}
		}
	}
	o.blocks.Remove(b)
	b.Release(n.vectors)
	n.blocks.Put(b)
}

func (o *rxObject) checkComplete() {
	if o.pending.IsSet() || o.infoPending() {
		return
	}
	o.complete()
}

func (o *rxObject) complete() {
	n := o.n
	s := n.c.s
	if c, ok := o.obj.Data.(store.Completer); ok {
		if err := c.Complete(); err != nil {
			o.fail(errors.Wrapf(err, "complete object %d", o.id()))
			return
		}
	}
	o.done = true
	o.detach()
	n.advanceSync()
	n.stats.Completed++
	n.stats.BytesCompleted += o.obj.Geom.Size
	s.metrics.ObjectDone("rx", true)
	log.Debugf("Object %d from %08x complete.", o.id(), n.id)
	s.notify(o.event(RxComplete))
	if err := o.obj.Data.Close(); err != nil {
		log.WithError(err).Warnf("Failed to close object %d.", o.id())
	}
}

// detach releases the buffers of o and removes it from its node.
func (o *rxObject) detach() {
	n := o.n
	o.blocks.Range(func(b *buffer.Block) bool {
		o.releaseBlock(b, false)
		return true
	})
	n.objects.remove(o.id())
	n.pending.Unset(o.id())
}

// fail aborts o after a sink error.
func (o *rxObject) fail(err error) {
	log.WithError(err).Warnf("Object %d from %08x failed.", o.id(), o.n.id)
	o.abort(err)
	o.n.advanceSync()
}

// abort abandons o, discarding partial sink content. Callers move the sync
// window themselves.
func (o *rxObject) abort(err error) {
	if o.done {
		return
	}
	n := o.n
	s := n.c.s
	o.done = true
	o.detach()
	if d, ok := o.obj.Data.(store.Discarder); ok {
		if derr := d.Discard(); derr != nil {
			log.WithError(derr).Debugf("Failed to discard object %d.", o.id())
		}
	}
	if cerr := o.obj.Data.Close(); cerr != nil {
		log.WithError(cerr).Debugf("Failed to close object %d.", o.id())
	}
	n.stats.Failed++
	s.metrics.ObjectDone("rx", false)
	e := o.event(RxAbort)
	e.Err = err
	s.notify(e)
	if err != nil {
		s.notify(Event{Type: Error, Node: n.id, ObjectID: o.id(), Err: err})
	}
}

// reclaim steals a buffered block for requester: from the oldest unreliable
// object first, otherwise from the newest reliable object, never block id
// of the requester or, for the requester, any block before it.
func (n *remoteServer) reclaim(requester *rxObject, id uint32) bool {
	stealable := func(o *rxObject) *buffer.Block {
		if o != requester {
			return o.blocks.Highest()
		}
		var best *buffer.Block
		o.blocks.Range(func(b *buffer.Block) bool {
			if b.ID() > id && (best == nil || b.ID() > best.ID()) {
				best = b
			}
			return true
		})
		return best
	}
	var victim *buffer.Block
	var owner *rxObject
	n.objects.each(func(_ uint32, v interface{}) bool {
		o := v.(*rxObject)
		if o.reliable() || o.blocks.Len() == 0 {
			return true
		}
		if o != requester {
			victim = o.blocks.Oldest()
		} else {
			victim = stealable(o)
		}
		owner = o
		return victim == nil
	})
	if victim == nil {
		n.objects.reverse(func(_ uint32, v interface{}) bool {
			o := v.(*rxObject)
			if !o.reliable() || o.blocks.Len() == 0 {
				return true
			}
			victim, owner = stealable(o), o
			return victim == nil
		})
	}
	if victim == nil {
		return false
	}
	log.Debugf("Reclaimed block %d of object %d for object %d.", victim.ID(), owner.id(), requester.id())
	owner.releaseBlock(victim, true)
	n.stats.Reclaims++
	return true
}
