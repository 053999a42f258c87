// Package buffer holds the fixed arenas and block structures the session
// buffers segments in, and the geometry that maps objects onto blocks.
package buffer

import "errors"

// ErrPoolExhausted occurs when an arena has no free entries left.
var ErrPoolExhausted = errors.New("buffer: pool exhausted")

// VectorPool is a fixed arena of equally sized segment buffers. Get never
// blocks: it returns nil when the arena is empty.
type VectorPool struct {
	size     int
	total    int
	free     [][]byte
	overruns int
	peak     int
}

// NewVectorPool carves count vectors of size bytes out of one allocation.
func NewVectorPool(count, size int) *VectorPool {
	p := &VectorPool{size: size, total: count, free: make([][]byte, 0, count)}
	arena := make([]byte, count*size)
	for i := 0; i < count; i++ {
		p.free = append(p.free, arena[i*size:(i+1)*size:(i+1)*size])
	}
	return p
}

// Get takes a vector from the arena, or returns nil when none is left.
func (p *VectorPool) Get() []byte {
	n := len(p.free)
	if n == 0 {
		p.overruns++
		return nil
	}
	v := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	if used := p.total - len(p.free); used > p.peak {
		p.peak = used
	}
	return v[:p.size]
}

// Put returns a vector to the arena.
func (p *VectorPool) Put(v []byte) {
	if v == nil || len(p.free) >= p.total {
		return
	}
	p.free = append(p.free, v[:cap(v)])
}

// VectorSize returns the size of every vector.
func (p *VectorPool) VectorSize() int { return p.size }

// Free returns the number of vectors available.
func (p *VectorPool) Free() int { return len(p.free) }

// Total returns the arena capacity.
func (p *VectorPool) Total() int { return p.total }

// InUse returns the number of vectors handed out.
func (p *VectorPool) InUse() int { return p.total - len(p.free) }

// Peak returns the highest InUse seen.
func (p *VectorPool) Peak() int { return p.peak }

// Overruns returns how many Get calls found the arena empty.
func (p *VectorPool) Overruns() int { return p.overruns }

// BlockPool is a fixed arena of blocks able to hold maxVectors vectors each.
type BlockPool struct {
	total    int
	free     []*Block
	overruns int
}

// NewBlockPool allocates count blocks.
func NewBlockPool(count, maxVectors int) *BlockPool {
	p := &BlockPool{total: count, free: make([]*Block, 0, count)}
	for i := 0; i < count; i++ {
		p.free = append(p.free, newBlock(maxVectors))
	}
	return p
}

// Get takes a block from the arena, or returns nil when none is left.
func (p *BlockPool) Get() *Block {
	n := len(p.free)
	if n == 0 {
		p.overruns++
		return nil
	}
	b := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return b
}

// Put returns a block to the arena. Its vectors must have been released.
func (p *BlockPool) Put(b *Block) {
	if b == nil || len(p.free) >= p.total {
		return
	}
	p.free = append(p.free, b)
}

// Free returns the number of blocks available.
func (p *BlockPool) Free() int { return len(p.free) }

// Total returns the arena capacity.
func (p *BlockPool) Total() int { return p.total }

// Overruns returns how many Get calls found the arena empty.
func (p *BlockPool) Overruns() int { return p.overruns }
