package session

import (
	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/buffer"
	"github.com/skycoin/mdp/pkg/protocol"
)

type txState uint8

const (
	txPending txState = iota // queued, nothing sent
	txActive                 // first pass in progress
	txRepair                 // first pass done, repairs pending
	txHeld                   // waiting for repair requests
)

func (st txState) String() string {
	switch st {
	case txPending:
		return "PENDING"
	case txActive:
		return "ACTIVE"
	case txRepair:
		return "REPAIR"
	case txHeld:
		return "HELD"
	}
	return "UNKNOWN"
}

// txObject is an object the server is sending.
type txObject struct {
	obj   buffer.Object
	flags protocol.Flags
	state txState

	sendInfo  bool
	nextBlock uint32 // first pass position
	// repair marks blocks before nextBlock with transmissions pending.
	repair bitmask.BitField
	blocks *buffer.BlockBuffer
	// parityUsed keeps the parity offset of blocks whose buffers were released.
	parityUsed []uint8

	acked   map[uint32]bool
	ackDone bool
}

func newTxObject(id uint32, geom buffer.Geometry, flags protocol.Flags) (*txObject, error) {
	o := &txObject{
		obj:        buffer.Object{ID: id, Geom: geom},
		flags:      flags,
		blocks:     buffer.NewBlockBuffer(),
		parityUsed: make([]uint8, geom.NumBlocks()),
		acked:      make(map[uint32]bool),
	}
	n := int(geom.NumBlocks())
	if n == 0 {
		n = 1
	}
	if err := o.repair.Init(n); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *txObject) id() uint32 { return o.obj.ID }

func (o *txObject) numBlocks() uint32 { return o.obj.Geom.NumBlocks() }

func (o *txObject) firstPassDone() bool { return o.nextBlock >= o.numBlocks() && !o.sendInfo }

// header returns the object header for the next message of o.
func (o *txObject) header(seq uint16, grtt uint8) protocol.ObjectHeader {
	g := o.obj.Geom
	return protocol.ObjectHeader{
		Sequence:   seq,
		ObjectID:   o.obj.ID,
		ObjectSize: uint32(g.Size),
		NData:      uint8(g.NData),
		NParity:    uint8(g.NParity),
		Flags:      o.flags,
		GRTT:       grtt,
	}
}

// hasPending reports whether o has anything to transmit right now.
func (o *txObject) hasPending() bool {
	return o.sendInfo || o.repair.IsSet() || o.state == txPending || o.state == txActive
}
