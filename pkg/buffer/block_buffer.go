package buffer

import (
	"container/list"

	"github.com/skycoin/mdp/pkg/protocol"
)

// BlockBuffer indexes the buffered blocks of one object by id and keeps them
// in least recently touched order.
type BlockBuffer struct {
	index map[uint32]*list.Element
	order *list.List // front is the least recently touched
}

// NewBlockBuffer returns an empty BlockBuffer.
func NewBlockBuffer() *BlockBuffer {
	return &BlockBuffer{index: make(map[uint32]*list.Element), order: list.New()}
}

// Len returns the number of buffered blocks.
func (bb *BlockBuffer) Len() int { return bb.order.Len() }

// Insert adds b as the most recently touched block. It returns false when a
// block with the same id is already buffered.
func (bb *BlockBuffer) Insert(b *Block) bool {
	if _, ok := bb.index[b.id]; ok {
		return false
	}
	bb.index[b.id] = bb.order.PushBack(b)
	return true
}

// Find returns the block with id, or nil.
func (bb *BlockBuffer) Find(id uint32) *Block {
	if e, ok := bb.index[id]; ok {
		return e.Value.(*Block)
	}
	return nil
}

// Touch marks b as the most recently used block.
func (bb *BlockBuffer) Touch(b *Block) {
	if e, ok := bb.index[b.id]; ok {
		bb.order.MoveToBack(e)
	}
}

// Remove drops b from the buffer. Its vectors are left to the caller.
func (bb *BlockBuffer) Remove(b *Block) bool {
	e, ok := bb.index[b.id]
	if !ok || e.Value.(*Block) != b {
		return false
	}
	bb.order.Remove(e)
	delete(bb.index, b.id)
	return true
}

// Oldest returns the least recently touched block, or nil.
func (bb *BlockBuffer) Oldest() *Block {
	if e := bb.order.Front(); e != nil {
		return e.Value.(*Block)
	}
	return nil
}

// Newest returns the most recently touched block, or nil.
func (bb *BlockBuffer) Newest() *Block {
	if e := bb.order.Back(); e != nil {
		return e.Value.(*Block)
	}
	return nil
}

// Highest returns the block with the highest id in windowed order, or nil.
func (bb *BlockBuffer) Highest() *Block {
	var best *Block
	for e := bb.order.Front(); e != nil; e = e.Next() {
		if b := e.Value.(*Block); best == nil || protocol.After(b.id, best.id) {
			best = b
		}
	}
	return best
}

// Range calls fn from the oldest to the newest block until fn returns false.
// fn may remove the block it is given.
func (bb *BlockBuffer) Range(fn func(b *Block) bool) {
	for e := bb.order.Front(); e != nil; {
		next := e.Next()
		if !fn(e.Value.(*Block)) {
			return
		}
		e = next
	}
}
