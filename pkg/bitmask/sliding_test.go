package bitmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingBitField_Basic(t *testing.T) {
	var s SlidingBitField
	require.NoError(t, s.Init(16, 64))
	assert.Equal(t, 16, s.NumBits())
	assert.Equal(t, 64, s.MaxBits())

	_, ok := s.FirstSet()
	assert.False(t, ok)

	require.NoError(t, s.Set(1003))
	assert.Equal(t, uint32(1000), s.Offset())
	first, ok := s.FirstSet()
	require.True(t, ok)
	assert.Equal(t, uint32(1003), first)

	require.NoError(t, s.Set(1010))
	assert.True(t, s.Test(1010))
	assert.False(t, s.Test(1011))

	next, ok := s.NextSet(1004)
	require.True(t, ok)
	assert.Equal(t, uint32(1010), next)
	_, ok = s.NextSet(1011)
	assert.False(t, ok)

	s.Unset(1003)
	first, _ = s.FirstSet()
	assert.Equal(t, uint32(1010), first)
	assert.Equal(t, 1, s.Count())

	s.Unset(5)
	assert.Equal(t, 1, s.Count())
}

func TestSlidingBitField_Grow(t *testing.T) {
	var s SlidingBitField
	require.NoError(t, s.Init(8, 64))

	require.NoError(t, s.Set(0))
	require.NoError(t, s.Set(40))
	assert.Equal(t, 64, s.NumBits())
	assert.True(t, s.Test(0))
	assert.True(t, s.Test(40))

	assert.False(t, s.CanSet(64))
	assert.Equal(t, ErrWindowOverflow, s.Set(64))
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, uint32(0), s.Offset())

	s.Unset(0)
	assert.True(t, s.CanSet(64))
	require.NoError(t, s.Set(64))
	assert.Equal(t, uint32(40), s.Offset())
	assert.True(t, s.Test(40))
	assert.True(t, s.Test(64))
}

func TestSlidingBitField_Compact(t *testing.T) {
	var s SlidingBitField
	require.NoError(t, s.Init(32, 32))
	require.NoError(t, s.SetRange(0, 20))
	for id := uint32(0); id < 17; id++ {
		s.Unset(id)
	}

	s.Compact()
	assert.Equal(t, uint32(16), s.Offset())
	assert.Equal(t, 3, s.Count())
	for id := uint32(17); id < 20; id++ {
		assert.True(t, s.Test(id))
	}
	assert.False(t, s.Test(16))
}

func TestSlidingBitField_Wraparound(t *testing.T) {
	var s SlidingBitField
	require.NoError(t, s.Init(16, 64))

	require.NoError(t, s.Set(0xfffffffa))
	require.NoError(t, s.Set(3))
	assert.Equal(t, uint32(0xfffffff8), s.Offset())

	first, ok := s.FirstSet()
	require.True(t, ok)
	assert.Equal(t, uint32(0xfffffffa), first)
	last, ok := s.LastSet()
	require.True(t, ok)
	assert.Equal(t, uint32(3), last)

	next, ok := s.NextSet(0xfffffffb)
	require.True(t, ok)
	assert.Equal(t, uint32(3), next)
}

func TestSlidingBitField_Grow_Empty(t *testing.T) {
	var s SlidingBitField
	require.NoError(t, s.Init(8, 8))
	require.NoError(t, s.Grow(77))
	assert.Equal(t, uint32(72), s.Offset())
	require.NoError(t, s.SetRange(72, 8))
	assert.Equal(t, ErrWindowOverflow, s.SetRange(80, 1))
	assert.Equal(t, 8, s.Count())
}

