package fec

import (
	"errors"

	"github.com/skycoin/mdp/pkg/bitmask"
)

var (
	// ErrTooManyErasures occurs when a block misses more vectors than it has parity.
	ErrTooManyErasures = errors.New("fec: too many erasures")

	// ErrNoErasures occurs when Decode is called on a complete block.
	ErrNoErasures = errors.New("fec: no erasures")

	// ErrMissingVector occurs when an erased data slot has no buffer to decode into.
	ErrMissingVector = errors.New("fec: missing vector for erased data")
)

// Decoder reconstructs erased data vectors from the surviving data and parity.
type Decoder struct {
	npar    int
	vecSize int
	synd    [][]byte // synd[t] holds S_{t+1} for every byte offset
	omega   [][]byte
	lambda  []byte
	locs    []int
}

// NewDecoder creates a Decoder for blocks with nparity parity vectors of up to maxVectorSize bytes.
func NewDecoder(nparity, maxVectorSize int) (*Decoder, error) {
	if nparity < 0 || nparity >= MaxParity {
		return nil, ErrInvalidParity
	}
	if maxVectorSize <= 0 {
		return nil, ErrInvalidVectorSize
	}
	d := &Decoder{
		npar:    nparity,
		vecSize: maxVectorSize,
		synd:    make([][]byte, nparity),
		omega:   make([][]byte, nparity),
		lambda:  make([]byte, nparity+1),
		locs:    make([]int, 0, nparity),
	}
	for i := 0; i < nparity; i++ {
		d.synd[i] = make([]byte, maxVectorSize)
		d.omega[i] = make([]byte, maxVectorSize)
	}
	return d, nil
}

// NumParity returns the parity count the decoder was built for.
func (d *Decoder) NumParity() int { return d.npar }

// Decode rebuilds the erased data vectors of a block in place. vectors holds
// the block's ndata data vectors followed by its parity vectors; erasureMask
// marks (MSB-first) the missing slots. Erased parity slots may be nil, erased
// data slots must be zero filled buffers. Only data slots are written.
func (d *Decoder) Decode(vectors [][]byte, ndata int, erasureMask []byte) error {
	n := len(vectors)
	if n > ndata+d.npar {
		n = ndata + d.npar
	}
	d.locs = bitmask.ParseMask(erasureMask, n, d.locs[:0])
	ne := len(d.locs)
	if ne == 0 {
		return ErrNoErasures
	}
	if ne > d.npar {
		return ErrTooManyErasures
	}

	size := 0
	for _, v := range vectors[:n] {
		if len(v) > size {
			size = len(v)
		}
	}
	if size > d.vecSize {
		size = d.vecSize
	}
	for _, loc := range d.locs {
		if loc < ndata && vectors[loc] == nil {
			return ErrMissingVector
		}
	}

	// syndromes over the surviving vectors, skipping erasures
	for t := 0; t < d.npar; t++ {
		s := d.synd[t][:size]
		for i := range s {
			s[i] = 0
		}
	}
	erased := 0
	for v := 0; v < n; v++ {
		if erased < ne && d.locs[erased] == v {
			erased++
			continue
		}
		vec := vectors[v]
		if vec == nil {
			continue
		}
		deg := n - 1 - v
		for t := 0; t < d.npar; t++ {
			mulAdd(d.synd[t][:size], vec, alphaPow((t+1)*deg))
		}
	}

	// erasure locator: Lambda(x) = prod(1 + X_l x)
	lambda := d.lambda[:ne+1]
	for i := range lambda {
		lambda[i] = 0
	}
	lambda[0] = 1
	for l, loc := range d.locs {
		x := alphaPow(n - 1 - loc)
		for j := l + 1; j > 0; j-- {
			lambda[j] ^= gmult[x][lambda[j-1]]
		}
	}

	// Omega = S*Lambda mod x^ne
	for k := 0; k < ne; k++ {
		o := d.omega[k][:size]
		for i := range o {
			o[i] = 0
		}
		for m := 0; m <= k; m++ {
			mulAdd(o, d.synd[k-m][:size], lambda[m])
		}
	}

	// Forney
	for _, loc := range d.locs {
		if loc >= ndata {
			continue
		}
		deg := n - 1 - loc
		xinv := 255 - deg%255

		var denom byte
		for j := 1; j <= ne; j += 2 {
			denom ^= gmult[lambda[j]][alphaPow((j-1)*xinv)]
		}
		if denom == 0 {
			return ErrTooManyErasures
		}
		scale := ginv[denom]

		out := vectors[loc]
		if len(out) > size {
			out = out[:size]
		}
		for i := range out {
			out[i] = 0
		}
		for k := 0; k < ne; k++ {
			mulAdd(out, d.omega[k][:size], gmult[alphaPow(k*xinv)][scale])
		}
	}
	return nil
}
