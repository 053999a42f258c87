package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/mdp/pkg/bitmask"
	"github.com/skycoin/mdp/pkg/store"
)

func TestVectorPool(t *testing.T) {
	p := NewVectorPool(2, 16)
	assert.Equal(t, 2, p.Free())

	a := p.Get()
	b := p.Get()
	require.Len(t, a, 16)
	require.Len(t, b, 16)
	assert.Nil(t, p.Get())
	assert.Equal(t, 1, p.Overruns())
	assert.Equal(t, 2, p.InUse())
	assert.Equal(t, 2, p.Peak())

	// vectors must not share storage
	a[15] = 1
	assert.Equal(t, byte(0), b[0])

	p.Put(a[:3])
	assert.Len(t, p.Get(), 16)
	p.Put(b)
	p.Put(b)
	p.Put(b)
	assert.Equal(t, 2, p.Free())
}

func TestBlockPool(t *testing.T) {
	p := NewBlockPool(1, 12)
	b := p.Get()
	require.NotNil(t, b)
	assert.Nil(t, p.Get())
	assert.Equal(t, 1, p.Overruns())
	p.Put(b)
	assert.Equal(t, 1, p.Free())
}

func TestBlock(t *testing.T) {
	vp := NewVectorPool(8, 4)
	b := NewBlock(6)
	assert.Equal(t, ErrBlockGeometry, b.Init(0, 5, 2))
	require.NoError(t, b.Init(7, 4, 2))
	assert.Equal(t, 4, b.Erasures())

	v := vp.Get()
	copy(v, "abcd")
	require.True(t, b.Fill(1, v))
	assert.False(t, b.Fill(1, v))
	p := vp.Get()
	require.True(t, b.Fill(5, p))

	assert.Equal(t, 2, b.Filled())
	assert.Equal(t, 1, b.FilledData())
	assert.Equal(t, 2, b.Erasures())
	assert.False(t, b.IsComplete())
	assert.Equal(t, 3, b.MissingDataVectors())

	var erased bitmask.BitField
	b.ErasureMask(&erased)
	assert.Equal(t, []int{0, 2, 3, 4}, bitmask.ParseMask(erased.Mask(6), 6, nil))

	require.NoError(t, b.FillZero(vp))
	assert.Equal(t, 5, b.AttachedVectors())
	assert.Equal(t, 3, vp.Free())
	assert.Equal(t, []byte{0, 0, 0, 0}, b.Vector(0))

	b.Release(vp)
	assert.Equal(t, 8, vp.Free())
	assert.Equal(t, 0, b.AttachedVectors())
	assert.Equal(t, 0, b.Filled())
}

func TestBlock_FillZero_Exhausted(t *testing.T) {
	vp := NewVectorPool(1, 4)
	b := NewBlock(4)
	require.NoError(t, b.Init(0, 3, 1))
	assert.Equal(t, ErrPoolExhausted, b.FillZero(vp))
	b.Release(vp)
	assert.Equal(t, 1, vp.Free())
}

func TestBlockBuffer(t *testing.T) {
	bb := NewBlockBuffer()
	blocks := make([]*Block, 3)
	for i := range blocks {
		blocks[i] = NewBlock(2)
		require.NoError(t, blocks[i].Init(uint32(i+10), 1, 1))
		require.True(t, bb.Insert(blocks[i]))
	}
	assert.False(t, bb.Insert(blocks[0]))
	assert.Equal(t, 3, bb.Len())

	assert.Equal(t, blocks[0], bb.Oldest())
	assert.Equal(t, blocks[2], bb.Newest())
	bb.Touch(blocks[0])
	assert.Equal(t, blocks[1], bb.Oldest())
	assert.Equal(t, blocks[0], bb.Newest())
	assert.Equal(t, blocks[2], bb.Highest())
	assert.Equal(t, blocks[1], bb.Find(11))
	assert.Nil(t, bb.Find(99))

	var ids []uint32
	bb.Range(func(b *Block) bool {
		ids = append(ids, b.ID())
		bb.Remove(b)
		return true
	})
	assert.Equal(t, []uint32{11, 12, 10}, ids)
	assert.Equal(t, 0, bb.Len())
	assert.Nil(t, bb.Oldest())
	assert.Nil(t, bb.Highest())
}

func TestGeometry(t *testing.T) {
	g := Geometry{Size: 10000, SegmentSize: 1000, NData: 10, NParity: 2}
	require.NoError(t, g.Validate())
	assert.Equal(t, uint32(1), g.NumBlocks())
	assert.Equal(t, 10, g.BlockLen(0))
	assert.Equal(t, 0, g.BlockLen(1))
	assert.False(t, g.IsRunt(0, 9))

	g = Geometry{Size: 25500, SegmentSize: 1000, NData: 10, NParity: 2}
	assert.Equal(t, int64(26), g.NumSegments())
	assert.Equal(t, uint32(3), g.NumBlocks())
	assert.Equal(t, 6, g.BlockLen(2))
	assert.Equal(t, 500, g.SegmentLen(2, 5))
	assert.True(t, g.IsRunt(2, 5))
	assert.Equal(t, 0, g.SegmentLen(2, 6))
	assert.Equal(t, int64(25000), g.Offset(2, 5))

	id, seg, ok := g.Locate(25000)
	require.True(t, ok)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, 5, seg)
	_, _, ok = g.Locate(25001)
	assert.False(t, ok)
	_, _, ok = g.Locate(26000)
	assert.False(t, ok)

	assert.Equal(t, uint32(0), Geometry{Size: 0, SegmentSize: 10, NData: 1}.NumBlocks())

	for _, bad := range []Geometry{
		{Size: 1, SegmentSize: 0, NData: 1},
		{Size: 1, SegmentSize: 1, NData: 0},
		{Size: 1, SegmentSize: 1, NData: 200, NParity: 56},
		{Size: 1, SegmentSize: 1, NData: 1, NParity: 128},
		{Size: -1, SegmentSize: 1, NData: 1},
	} {
		assert.Equal(t, ErrGeometry, bad.Validate(), "%+v", bad)
	}
}

func TestObject_Segments(t *testing.T) {
	src := []byte("hello, multicast world")
	o := &Object{ID: 1, Geom: Geometry{Size: int64(len(src)), SegmentSize: 8, NData: 2, NParity: 1}, Data: store.MemoryFrom(src)}

	buf := make([]byte, 8)
	n, err := o.ReadSegment(0, 1, buf)
	require.NoError(t, err)
	assert.Equal(t, "ulticast", string(buf[:n]))
	n, err = o.ReadSegment(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, " world", string(buf[:n]))
	_, err = o.ReadSegment(1, 1, buf)
	assert.Equal(t, store.ErrOutOfRange, err)

	dst := store.NewMemory(int64(len(src)))
	rx := &Object{ID: 1, Geom: o.Geom, Data: dst}
	require.NoError(t, rx.WriteSegment(1, 0, []byte(" world\x00\x00")))
	assert.Equal(t, " world", string(dst.Bytes()[16:]))
}
