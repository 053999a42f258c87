package fec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGalois(t *testing.T) {
	for a := 1; a < 256; a++ {
		assert.Equal(t, byte(1), gmult[a][ginv[a]], "a=%d", a)
		assert.Equal(t, byte(0), gmult[a][0])
	}
	assert.Equal(t, byte(1), alphaPow(0))
	assert.Equal(t, byte(2), alphaPow(1))
	assert.Equal(t, alphaPow(3), alphaPow(258))
}

func TestGenerator(t *testing.T) {
	g := generator(4)
	require.Len(t, g, 5)
	assert.Equal(t, byte(1), g[4])

	// every a^n, n=1..4, is a root
	for n := 1; n <= 4; n++ {
		x := alphaPow(n)
		var v, p byte = 0, 1
		for _, c := range g {
			v ^= gmult[c][p]
			p = gmult[p][x]
		}
		assert.Equal(t, byte(0), v, "root a^%d", n)
	}
}

func TestNewEncoder(t *testing.T) {
	_, err := NewEncoder(-1, 16)
	assert.Equal(t, ErrInvalidParity, err)
	_, err = NewEncoder(MaxParity, 16)
	assert.Equal(t, ErrInvalidParity, err)
	_, err = NewEncoder(4, 0)
	assert.Equal(t, ErrInvalidVectorSize, err)
	_, err = NewDecoder(MaxParity, 16)
	assert.Equal(t, ErrInvalidParity, err)
}

// codeword returns ndata random data vectors followed by their parity.
func codeword(t *testing.T, rnd *rand.Rand, ndata, npar, size int) [][]byte {
	enc, err := NewEncoder(npar, size)
	require.NoError(t, err)

	vectors := make([][]byte, ndata+npar)
	for i := 0; i < ndata; i++ {
		vectors[i] = make([]byte, size)
		rnd.Read(vectors[i])
	}
	for i := ndata; i < ndata+npar; i++ {
		vectors[i] = make([]byte, size)
	}
	for i := 0; i < ndata; i++ {
		require.NoError(t, enc.Encode(vectors[i], vectors[ndata:]))
	}
	return vectors
}

func erasureMask(locs []int, n int) []byte {
	mask := make([]byte, (n+7)/8)
	for _, l := range locs {
		mask[l>>3] |= 0x80 >> uint(l&7)
	}
	return mask
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	cases := []struct{ ndata, npar int }{
		{1, 0}, {1, 1}, {1, 127}, {10, 2}, {20, 4}, {64, 32},
		{100, 100}, {128, 0}, {128, 1}, {128, 127},
	}
	const size = 48

	for _, tc := range cases {
		vectors := codeword(t, rnd, tc.ndata, tc.npar, size)
		orig := make([][]byte, tc.ndata)
		for i := range orig {
			orig[i] = append([]byte(nil), vectors[i]...)
		}

		dec, err := NewDecoder(tc.npar, size)
		require.NoError(t, err)

		n := tc.ndata + tc.npar
		for _, ne := range []int{1, tc.npar / 2, tc.npar} {
			if ne == 0 || ne > tc.npar {
				continue
			}
			locs := rnd.Perm(n)[:ne]
			rx := make([][]byte, n)
			copy(rx, vectors)
			for _, l := range locs {
				if l < tc.ndata {
					rx[l] = make([]byte, size)
				} else {
					rx[l] = nil
				}
			}
			require.NoError(t, dec.Decode(rx, tc.ndata, erasureMask(locs, n)))
			for i := 0; i < tc.ndata; i++ {
				require.Equal(t, orig[i], rx[i], "ndata=%d npar=%d ne=%d vector %d", tc.ndata, tc.npar, ne, i)
			}
		}
	}
}

func TestShortenedBlock(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	const ndata, npar, size = 3, 4, 16

	// a short last block is encoded with fewer data vectors than the object's ndata
	vectors := codeword(t, rnd, ndata, npar, size)
	want := append([]byte(nil), vectors[0]...)
	want2 := append([]byte(nil), vectors[2]...)

	dec, err := NewDecoder(npar, size)
	require.NoError(t, err)
	vectors[0] = make([]byte, size)
	vectors[2] = make([]byte, size)
	vectors[4] = nil
	require.NoError(t, dec.Decode(vectors, ndata, erasureMask([]int{0, 2, 4}, ndata+npar)))
	assert.Equal(t, want, vectors[0])
	assert.Equal(t, want2, vectors[2])
}

func TestRuntVector(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	const ndata, npar, size = 4, 2, 32

	enc, err := NewEncoder(npar, size)
	require.NoError(t, err)
	vectors := make([][]byte, ndata+npar)
	for i := range vectors {
		vectors[i] = make([]byte, size)
	}
	rnd.Read(vectors[0])
	rnd.Read(vectors[1])
	rnd.Read(vectors[2])
	runt := make([]byte, 5)
	rnd.Read(runt)
	for i := 0; i < ndata-1; i++ {
		require.NoError(t, enc.Encode(vectors[i], vectors[ndata:]))
	}
	require.NoError(t, enc.Encode(runt, vectors[ndata:]))

	dec, err := NewDecoder(npar, size)
	require.NoError(t, err)
	vectors[3] = make([]byte, size)
	require.NoError(t, dec.Decode(vectors, ndata, erasureMask([]int{3}, ndata+npar)))
	assert.Equal(t, runt, vectors[3][:5])
	assert.Equal(t, make([]byte, size-5), vectors[3][5:])
}

func TestDecodeErrors(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	vectors := codeword(t, rnd, 4, 2, 8)
	dec, err := NewDecoder(2, 8)
	require.NoError(t, err)

	assert.Equal(t, ErrNoErasures, dec.Decode(vectors, 4, []byte{0}))
	assert.Equal(t, ErrTooManyErasures, dec.Decode(vectors, 4, erasureMask([]int{0, 1, 2}, 6)))

	vectors[1] = nil
	assert.Equal(t, ErrMissingVector, dec.Decode(vectors, 4, erasureMask([]int{1}, 6)))
}
