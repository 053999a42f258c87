package bitmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables(t *testing.T) {
	assert.Equal(t, 0, Weight(0x00))
	assert.Equal(t, 8, Weight(0xff))
	assert.Equal(t, 4, Weight(0xa5))
	assert.Equal(t, []int{0, 2, 5, 7, 9}, ParseMask([]byte{0xa5, 0x40}, 16, nil))
	assert.Equal(t, []int{0, 2, 5}, ParseMask([]byte{0xa5, 0x40}, 6, nil))
	assert.Empty(t, ParseMask(nil, 16, nil))
}

func TestBitField_Init(t *testing.T) {
	_, err := New(0)
	assert.Equal(t, ErrInvalidSize, err)
	_, err = New(MaxBits + 1)
	assert.Equal(t, ErrInvalidSize, err)

	b, err := New(20)
	require.NoError(t, err)
	assert.Equal(t, 20, b.NumBits())
	assert.False(t, b.IsSet())
	assert.Equal(t, 20, b.FirstSet())
	assert.Len(t, b.Mask(20), 3)
}

func TestBitField_SetUnset(t *testing.T) {
	b, err := New(20)
	require.NoError(t, err)

	assert.False(t, b.Set(-1))
	assert.False(t, b.Set(20))
	assert.False(t, b.Test(20))

	require.True(t, b.Set(13))
	assert.Equal(t, 13, b.FirstSet())
	require.True(t, b.Set(4))
	assert.Equal(t, 4, b.FirstSet())
	assert.Equal(t, []byte{0x08, 0x04, 0x00}, b.Mask(20))

	require.True(t, b.Unset(4))
	assert.Equal(t, 13, b.FirstSet())
	require.True(t, b.Unset(13))
	assert.Equal(t, 20, b.FirstSet())
	assert.False(t, b.IsSet())

	require.True(t, b.Set(0))
	require.True(t, b.Set(19))
	assert.Equal(t, 19, b.LastSet())
	assert.Equal(t, 0, b.PrevSet(18))
	assert.Equal(t, 19, b.NextSet(1))
	assert.Equal(t, 1, b.NextUnset(0))
	assert.Equal(t, 2, b.Count())
}

func TestBitField_Ranges(t *testing.T) {
	cases := []struct {
		name         string
		index, count int
	}{
		{"single", 5, 1},
		{"within byte", 1, 6},
		{"byte aligned", 8, 8},
		{"spanning", 3, 22},
		{"tail", 29, 3},
		{"all", 0, 32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := New(32)
			require.NoError(t, err)

			require.True(t, b.SetRange(tc.index, tc.count))
			assert.Equal(t, tc.count, b.Count())
			assert.Equal(t, tc.index, b.FirstSet())
			assert.Equal(t, tc.index+tc.count-1, b.LastSet())
			for i := 0; i < 32; i++ {
				assert.Equal(t, i >= tc.index && i < tc.index+tc.count, b.Test(i), "bit %d", i)
			}
			assert.Equal(t, tc.count, b.CountRange(tc.index, tc.count))

			require.True(t, b.UnsetRange(tc.index, tc.count))
			assert.False(t, b.IsSet())
			assert.Equal(t, 32, b.FirstSet())
		})
	}

	b, err := New(10)
	require.NoError(t, err)
	assert.False(t, b.SetRange(5, 6))
	assert.True(t, b.SetRange(5, 0))
	assert.False(t, b.IsSet())
}

func TestBitField_Reset(t *testing.T) {
	b, err := New(13)
	require.NoError(t, err)
	b.Reset()
	assert.Equal(t, 13, b.Count())
	assert.Equal(t, 0, b.FirstSet())
	assert.Equal(t, 12, b.LastSet())
	assert.Equal(t, 13, b.NextUnset(0))

	b.Clear()
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, -1, b.LastSet())
}

func TestBitField_Logic(t *testing.T) {
	x, err := New(16)
	require.NoError(t, err)
	y, err := New(16)
	require.NoError(t, err)
	x.SetRange(0, 8)
	y.SetRange(4, 8)

	var z BitField
	require.True(t, z.XorCopy(x, y))
	assert.Equal(t, []int{0, 1, 2, 3, 8, 9, 10, 11}, ParseMask(z.Mask(16), 16, nil))

	var c BitField
	c.Copy(x)
	c.And(y)
	assert.Equal(t, []int{4, 5, 6, 7}, ParseMask(c.Mask(16), 16, nil))
	assert.Equal(t, 4, c.FirstSet())

	c.Copy(x)
	c.AndNot(y)
	assert.Equal(t, []int{0, 1, 2, 3}, ParseMask(c.Mask(16), 16, nil))

	c.Copy(x)
	c.Or(y)
	assert.Equal(t, 12, c.Count())
	assert.Equal(t, 0, c.FirstSet())

	short, err := New(8)
	require.NoError(t, err)
	assert.False(t, z.XorCopy(x, short))
}

func TestBitField_OrMask(t *testing.T) {
	b, err := New(24)
	require.NoError(t, err)
	b.Set(9)

	added := b.OrMask(8, []byte{0xc0, 0xff}, 3)
	assert.Equal(t, 1, added)
	assert.Equal(t, []int{8, 9}, ParseMask(b.Mask(24), 24, nil))

	added = b.OrMask(16, []byte{0xff, 0xff}, 16)
	assert.Equal(t, 8, added)
	assert.Equal(t, 10, b.Count())
}
