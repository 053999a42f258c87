package session

import (
	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/protocol"
)

// maxSquelchIDs bounds the ids listed in one CMD_SQUELCH.
const maxSquelchIDs = 64

func (sv *server) onNack(sender uint32, content []byte) {
	var unknown []uint32
	increased := false
	r := protocol.NewNackReader(content)
	for on, ok := r.Next(); ok; on, ok = r.Next() {
		o := sv.find(on.ObjectID)
		if o == nil {
			if len(unknown) < maxSquelchIDs {
				unknown = append(unknown, on.ObjectID)
			}
			continue
		}
		changed := false
		on.Range(func(rn *protocol.RepairNack) bool {
			if sv.handleRepairNack(o, rn) {
				changed = true
			}
			return true
		})
		if changed {
			increased = true
			sv.reactivate(o)
		}
	}
	if len(unknown) > 0 {
		sv.squelch(unknown)
	}
	if increased && sv.cfg.UnicastNacks {
		adv := &protocol.NackAdv{GRTT: sv.grttQ, Content: append([]byte(nil), content...)}
		sv.s.enqueue(adv, sv.s.group) // nolint: errcheck
	}
}

// squelch tells clients to stop requesting ids the server no longer holds.
func (sv *server) squelch(ids []uint32) {
	sync := sv.nextID
	for _, t := range []*objTable{sv.hold, sv.repairQ, sv.pend} {
		if id, _, ok := t.first(); ok && protocol.Before(id, sync) {
			sync = id
		}
	}
	sv.stats.Squelches++
	log.Debugf("Squelching %d objects, sync=%d.", len(ids), sync)
	sv.s.enqueue(&protocol.Squelch{GRTT: sv.grttQ, SyncID: sync, IDs: ids}, sv.s.group) // nolint: errcheck
}

// handleRepairNack merges one repair request into the repair state of o and
// reports whether it increased that state.
func (sv *server) handleRepairNack(o *txObject, r *protocol.RepairNack) bool {
	switch r.Kind {
	case protocol.RepairInfo:
		return sv.repairInfo(o)
	case protocol.RepairObject:
		increased := sv.repairInfo(o)
		for id := uint32(0); id < o.nextBlock; id++ {
			if sv.repairBlock(o, id) {
				increased = true
			}
		}
		return increased
	case protocol.RepairBlocks:
		increased := false
		for _, i := range bitmask.ParseMask(r.Mask, 8*len(r.Mask), nil) {
			if sv.repairBlock(o, r.BlockID+uint32(i)) {
				increased = true
			}
		}
		return increased
	case protocol.RepairSegments:
		if !sv.repairable(o, r.BlockID) {
			return false
		}
		b := sv.repairTarget(o, r.BlockID)
		if b == nil {
			return false
		}
		mask := r.Mask
		return sv.repairSegments(o, b, int(r.NErasure), func(i int) bool {
			return i/8 < len(mask) && mask[i/8]&(0x80>>uint(i%8)) != 0
		})
	}
	return false
}

func (sv *server) repairInfo(o *txObject) bool {
	if !o.flags.Has(protocol.FlagInfoAvailable) || o.sendInfo {
		return false
	}
	o.sendInfo = true
	return true
}

// repairable reports whether block id has been through its first pass.
func (sv *server) repairable(o *txObject, id uint32) bool {
	return id < o.numBlocks() && id < o.nextBlock
}

func (sv *server) repairBlock(o *txObject, id uint32) bool {
	if !sv.repairable(o, id) {
		return false
	}
	b := sv.repairTarget(o, id)
	if b == nil {
		return false
	}
	return sv.repairSegments(o, b, b.NData(), func(i int) bool { return i < b.NData() })
}

// repairTarget returns the buffered block id of o, taking a fresh one when
// its buffers were released.
func (sv *server) repairTarget(o *txObject, id uint32) *buffer.Block {
	if b := o.blocks.Find(id); b != nil {
		return b
	}
	b := sv.blocks.Get()
	if b == nil && sv.reclaim(o, id) {
		b = sv.blocks.Get()
	}
	if b == nil {
		log.Debugf("No block buffer to repair object %d block %d.", o.id(), id)
		return nil
	}
	geom := o.obj.Geom
	if err := b.Init(id, geom.BlockLen(id), geom.NParity); err != nil {
		sv.blocks.Put(b)
		return nil
	}
	b.SetParityOffset(int(o.parityUsed[id]))
	o.blocks.Insert(b)
	return b
}

// repairSegments schedules erasures repair segments of b. Fresh parity is
// used while enough remains, otherwise the requested data segments are
// retransmitted.
func (sv *server) repairSegments(o *txObject, b *buffer.Block, erasures int, missing func(i int) bool) bool {
	if erasures <= 0 {
		return false
	}
	ndata := b.NData()
	increased := false
	fresh := b.NParity() - b.ParityOffset()
	if erasures <= fresh {
		if erasures <= b.ParityCount() {
			return false
		}
		first := ndata + b.ParityOffset() + b.ParityCount()
		b.Mask().SetRange(first, erasures-b.ParityCount())
		b.SetParityCount(erasures)
		increased = true
	} else {
		for i := 0; i < ndata; i++ {
			if missing(i) && !b.Mask().Test(i) {
				b.Mask().Set(i)
				increased = true
			}
		}
	}
	if erasures > b.NackErasures() {
		b.SetNackErasures(erasures)
	}
	if increased {
		o.repair.Set(int(b.ID()))
	}
	return increased
}
