package buffer

import (
	"errors"

	"github.com/skycoin/mdp/pkg/bitmask"
)

// ErrBlockGeometry occurs when a block is initialized beyond its vector capacity.
var ErrBlockGeometry = errors.New("buffer: block geometry exceeds capacity")

// Block is one FEC block: ndata data slots followed by nparity parity slots.
//
// On receive, the mask records filled slots and Erasures is the number of
// segments still needed. On transmit, the mask records slots pending
// transmission and only parity slots hold vectors.
type Block struct {
	id      uint32
	ndata   int
	npar    int
	vectors [][]byte
	mask    bitmask.BitField
	repair  bitmask.BitField
	filled  int

	parityReady  bool
	parityOffset int
	parityCount  int
	encoded      int
	nackErasures int
}

func newBlock(maxVectors int) *Block {
	return &Block{vectors: make([][]byte, 0, maxVectors)}
}

// NewBlock allocates a standalone block outside of any pool.
func NewBlock(maxVectors int) *Block { return newBlock(maxVectors) }

// Init prepares the block for reuse as block id of ndata data and nparity
// parity slots. Attached vectors must have been released.
func (b *Block) Init(id uint32, ndata, nparity int) error {
	n := ndata + nparity
	if ndata <= 0 || nparity < 0 || n > cap(b.vectors) {
		return ErrBlockGeometry
	}
	b.vectors = b.vectors[:n]
	for i := range b.vectors {
		b.vectors[i] = nil
	}
	if err := b.mask.Init(n); err != nil {
		return err
	}
	if err := b.repair.Init(n); err != nil {
		return err
	}
	b.id = id
	b.ndata = ndata
	b.npar = nparity
	b.filled = 0
	b.parityReady = false
	b.parityOffset = 0
	b.parityCount = 0
	b.encoded = 0
	b.nackErasures = 0
	return nil
}

// ID returns the block id.
func (b *Block) ID() uint32 { return b.id }

// NData returns the number of data slots.
func (b *Block) NData() int { return b.ndata }

// NParity returns the number of parity slots.
func (b *Block) NParity() int { return b.npar }

// NumVectors returns NData+NParity.
func (b *Block) NumVectors() int { return len(b.vectors) }

// Vectors returns every slot. Missing vectors are nil.
func (b *Block) Vectors() [][]byte { return b.vectors }

// Vector returns the vector at slot i or nil.
func (b *Block) Vector(i int) []byte {
	if i < 0 || i >= len(b.vectors) {
		return nil
	}
	return b.vectors[i]
}

// Attach stores v at slot i without changing the mask.
func (b *Block) Attach(i int, v []byte) bool {
	if i < 0 || i >= len(b.vectors) {
		return false
	}
	b.vectors[i] = v
	return true
}

// Detach removes and returns the vector at slot i.
func (b *Block) Detach(i int) []byte {
	if i < 0 || i >= len(b.vectors) {
		return nil
	}
	v := b.vectors[i]
	b.vectors[i] = nil
	return v
}

// Mask returns the filled (receive) or pending (transmit) slot mask.
func (b *Block) Mask() *bitmask.BitField { return &b.mask }

// RepairMask returns the slots other receivers already asked to repair.
func (b *Block) RepairMask() *bitmask.BitField { return &b.repair }

// Fill attaches v at slot i and marks the slot filled. It returns false when
// the slot is out of range or already filled.
func (b *Block) Fill(i int, v []byte) bool {
	if i < 0 || i >= len(b.vectors) || b.mask.Test(i) {
		return false
	}
	b.vectors[i] = v
	b.mask.Set(i)
	b.filled++
	return true
}

// IsFilled reports whether slot i is filled.
func (b *Block) IsFilled(i int) bool { return b.mask.Test(i) }

// Filled returns the number of filled slots.
func (b *Block) Filled() int { return b.filled }

// FilledData returns the number of filled data slots.
func (b *Block) FilledData() int { return b.mask.CountRange(0, b.ndata) }

// Erasures returns how many more segments the block needs to be decodable.
func (b *Block) Erasures() int {
	if b.filled >= b.ndata {
		return 0
	}
	return b.ndata - b.filled
}

// IsComplete reports whether enough slots are filled to recover the data.
func (b *Block) IsComplete() bool { return b.filled >= b.ndata }

// ErasureMask sets out to the slots that are not filled.
func (b *Block) ErasureMask(out *bitmask.BitField) {
	if out.NumBits() != len(b.vectors) {
		out.Init(len(b.vectors)) // nolint: errcheck
	}
	out.Reset()
	out.AndNot(&b.mask)
}

// FillZero attaches zeroed vectors to every unfilled data slot so that the
// block can be handed to the decoder. Vectors already attached are zeroed.
func (b *Block) FillZero(pool *VectorPool) error {
	for i := 0; i < b.ndata; i++ {
		if b.mask.Test(i) {
			continue
		}
		v := b.vectors[i]
		if v == nil {
			if v = pool.Get(); v == nil {
				return ErrPoolExhausted
			}
			b.vectors[i] = v
		}
		for j := range v {
			v[j] = 0
		}
	}
	return nil
}

// MissingDataVectors returns how many unfilled data slots lack a vector.
func (b *Block) MissingDataVectors() int {
	n := 0
	for i := 0; i < b.ndata; i++ {
		if !b.mask.Test(i) && b.vectors[i] == nil {
			n++
		}
	}
	return n
}

// Release returns every attached vector to pool and empties the block.
func (b *Block) Release(pool *VectorPool) {
	for i, v := range b.vectors {
		if v != nil {
			pool.Put(v)
			b.vectors[i] = nil
		}
	}
	b.mask.Clear()
	b.repair.Clear()
	b.filled = 0
	b.parityReady = false
}

// AttachedVectors returns the number of slots holding a vector.
func (b *Block) AttachedVectors() int {
	n := 0
	for _, v := range b.vectors {
		if v != nil {
			n++
		}
	}
	return n
}

// ParityReady reports whether every parity vector has been computed.
func (b *Block) ParityReady() bool { return b.parityReady }

// SetParityReady marks the parity vectors as computed.
func (b *Block) SetParityReady(ready bool) { b.parityReady = ready }

// ParityOffset returns the index of the first fresh parity vector: parity
// before it has already been scheduled for transmission.
func (b *Block) ParityOffset() int { return b.parityOffset }

// SetParityOffset sets the first fresh parity index.
func (b *Block) SetParityOffset(n int) { b.parityOffset = n }

// ParityCount returns how many parity vectors are scheduled in the current pass.
func (b *Block) ParityCount() int { return b.parityCount }

// SetParityCount sets the number of scheduled parity vectors.
func (b *Block) SetParityCount(n int) { b.parityCount = n }

// Encoded returns how many data vectors have been folded into the parity.
func (b *Block) Encoded() int { return b.encoded }

// SetEncoded sets the encoding progress.
func (b *Block) SetEncoded(n int) { b.encoded = n }

// NackErasures returns the largest erasure count overheard in NACKs for this block.
func (b *Block) NackErasures() int { return b.nackErasures }

// SetNackErasures records an overheard erasure count.
func (b *Block) SetNackErasures(n int) { b.nackErasures = n }
