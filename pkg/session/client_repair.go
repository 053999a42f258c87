package session

import (
	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/protocol"
)

// maxBlockRange is how many blocks one BLOCKS repair covers.
const maxBlockRange = 256

type repairState uint8

const (
	repairIdle    repairState = iota
	repairBackoff             // waiting a random backoff before sending a NACK
	repairHoldoff             // NACK sent, waiting for the repairs to arrive
)

func (st repairState) String() string {
	switch st {
	case repairIdle:
		return "IDLE"
	case repairBackoff:
		return "BACKOFF"
	case repairHoldoff:
		return "HOLDOFF"
	}
	return "UNKNOWN"
}

// repairCheck arms the repair timer when something the server has already
// sent is missing.
func (n *remoteServer) repairCheck() {
	if n.c.s.cfg.Emcon || n.repairState != repairIdle || !n.needsRepair() {
		return
	}
	n.resetSuppression()
	n.repairState = repairBackoff
	n.repairTimer.Start(n.c.s.backoff(n.c.s.cfg.BackoffWindow*n.grtt), false)
}

// needsRepair reports whether any pending object misses content the server
// has passed.
func (n *remoteServer) needsRepair() bool {
	if !n.posValid {
		return false
	}
	need := false
	n.eachPending(func(id uint32) bool {
		o := n.object(id)
		if o == nil {
			need = true
			return false
		}
		if o.repairCheck(n.lastBlock(o)) {
			need = true
		}
		return !need
	})
	return need
}

// eachPending walks the pending ids up to the server position.
func (n *remoteServer) eachPending(fn func(id uint32) bool) {
	for id, ok := n.pending.FirstSet(); ok && !protocol.After(id, n.curObj); id, ok = n.pending.NextSet(id + 1) {
		if !fn(id) {
			return
		}
		if id == n.curObj {
			return
		}
	}
}

// lastBlock returns how many blocks of o the server has passed.
func (n *remoteServer) lastBlock(o *rxObject) uint32 {
	nb := o.numBlocks()
	if o.id() != n.curObj || n.curBlock == allBlocks || n.curBlock > nb {
		return nb
	}
	return n.curBlock
}

// repairCheck reports whether o misses info or any block before last.
func (o *rxObject) repairCheck(last uint32) bool {
	if o.infoPending() && (last > 0 || o.id() != o.n.curObj || o.numBlocks() == 0) {
		return true
	}
	first := o.pending.FirstSet()
	return o.pending.IsSet() && uint32(first) < last
}

func (n *remoteServer) resetSuppression() {
	for k := range n.suppressObj {
		delete(n.suppressObj, k)
	}
	n.objects.each(func(_ uint32, v interface{}) bool {
		o := v.(*rxObject)
		o.suppressed.Clear()
		o.infoSuppressed = false
		o.objSuppressed = false
		o.blocks.Range(func(b *buffer.Block) bool {
			b.SetNackErasures(0)
			b.RepairMask().Clear()
			return true
		})
		return true
	})
}

func (n *remoteServer) onRepairTimeout() {
	switch n.repairState {
	case repairBackoff:
		n.repairState = repairHoldoff
		if content := n.buildNack(); len(content) > 0 {
			n.sendNack(content)
		}
		n.repairTimer.Start(protocol.Duration(2*n.grtt), false)
	case repairHoldoff:
		n.repairState = repairIdle
		n.repairCheck()
	}
}

func (n *remoteServer) sendNack(content []byte) {
	nack := &protocol.Nack{Feedback: n.feedback(), Content: append([]byte(nil), content...)}
	if err := n.c.s.enqueue(nack, n.feedbackAddr()); err != nil {
		log.WithError(err).Debug("NACK not sent.")
		return
	}
	n.stats.NacksSent++
}

// buildNack writes the repair requests for every pending object up to the
// server position into the node's NACK buffer. Requests overheard from other
// clients this cycle are left out.
func (n *remoteServer) buildNack() []byte {
	w := protocol.NewNackWriter(n.nackBuf)
	n.eachPending(func(id uint32) bool {
		o := n.object(id)
		if o == nil {
			if n.suppressObj[id] {
				n.stats.Suppressed++
				return true
			}
			if !w.OpenObject(id) || !w.AppendRepair(protocol.RepairNack{Kind: protocol.RepairObject}) {
				return false
			}
			w.CloseObject()
			return true
		}
		return o.buildNack(w, n.lastBlock(o))
	})
	w.CloseObject()
	return w.Bytes()
}

// buildNack appends the repairs of o for blocks before last. It returns false
// once the writer is full.
func (o *rxObject) buildNack(w *protocol.NackWriter, last uint32) bool {
	n := o.n
	if o.objSuppressed {
		n.stats.Suppressed++
		return true
	}
	if !o.repairCheck(last) {
		return true
	}
	if !w.OpenObject(o.id()) {
		return false
	}
	defer w.CloseObject()

	if o.infoPending() {
		if o.infoSuppressed {
			n.stats.Suppressed++
		} else if !w.AppendRepair(protocol.RepairNack{Kind: protocol.RepairInfo}) {
			return false
		}
	}
	// nothing at all received: one OBJECT repair covers it
	if o.received == 0 && o.blocks.Len() == 0 && last == o.numBlocks() && o.pending.Count() == int(last) && last > 0 {
		return w.AppendRepair(protocol.RepairNack{Kind: protocol.RepairObject})
	}

	var run bitmask.BitField
	run.Init(maxBlockRange) // nolint: errcheck
	runStart, inRun := uint32(0), false
	flush := func() bool {
		if !inRun {
			return true
		}
		inRun = false
		nbits := run.LastSet() + 1
		mask := append([]byte(nil), run.Mask(nbits)...)
		run.Clear()
		return w.AppendRepair(protocol.RepairNack{Kind: protocol.RepairBlocks, BlockID: runStart, Mask: mask})
	}
	for i := o.pending.FirstSet(); i < int(last) && i < o.pending.NumBits(); i = o.pending.NextSet(i + 1) {
		id := uint32(i)
		if o.suppressed.Test(i) {
			n.stats.Suppressed++
			continue
		}
		b := o.blocks.Find(id)
		if b == nil || b.Filled() == 0 {
			if inRun && id-runStart >= maxBlockRange {
				if !flush() {
					return false
				}
			}
			if !inRun {
				inRun, runStart = true, id
			}
			run.Set(int(id - runStart))
			continue
		}
		if !flush() {
			return false
		}
		erasures := b.Erasures()
		if erasures == 0 {
			continue
		}
		if b.NackErasures() >= erasures {
			n.stats.Suppressed++
			continue
		}
		missing := &n.erasures
		b.ErasureMask(missing)
		missing.AndNot(b.RepairMask())
		if !w.AppendRepair(protocol.RepairNack{
			Kind:     protocol.RepairSegments,
			NErasure: uint8(erasures),
			BlockID:  id,
			Mask:     append([]byte(nil), missing.Mask(b.NData())...),
		}) {
			return false
		}
	}
	return flush()
}

// overhear records the repairs another client requested from this server so
// that the node does not ask for them again in the current cycle.
func (n *remoteServer) overhear(content []byte) {
	if n.repairState != repairBackoff {
		return
	}
	r := protocol.NewNackReader(content)
	for on, ok := r.Next(); ok; on, ok = r.Next() {
		o := n.object(on.ObjectID)
		on.Range(func(rn *protocol.RepairNack) bool {
			if o == nil {
				if rn.Kind == protocol.RepairObject {
					n.suppressObj[on.ObjectID] = true
				}
				return true
			}
			o.overhear(rn)
			return true
		})
	}
}

func (o *rxObject) overhear(r *protocol.RepairNack) {
	switch r.Kind {
	case protocol.RepairObject:
		o.objSuppressed = true
	case protocol.RepairInfo:
		o.infoSuppressed = true
	case protocol.RepairBlocks:
		for _, i := range bitmask.ParseMask(r.Mask, 8*len(r.Mask), nil) {
			if id := int(r.BlockID) + i; id < o.suppressed.NumBits() {
				o.suppressed.Set(id)
			}
		}
	case protocol.RepairSegments:
		if int(r.BlockID) >= o.suppressed.NumBits() {
			return
		}
		b := o.blocks.Find(r.BlockID)
		if b == nil {
			if int(r.NErasure) >= o.obj.Geom.BlockLen(r.BlockID) {
				o.suppressed.Set(int(r.BlockID))
			}
			return
		}
		if int(r.NErasure) > b.NackErasures() {
			b.SetNackErasures(int(r.NErasure))
		}
		b.RepairMask().OrMask(0, r.Mask, b.NData())
	}
}
