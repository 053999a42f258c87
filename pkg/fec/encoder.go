package fec

import "errors"

// MaxParity bounds the number of parity vectors per block.
const MaxParity = 128

// MaxCodeword bounds data plus parity vectors per block.
const MaxCodeword = 255

var (
	// ErrInvalidParity occurs when the parity count is outside [0, MaxParity).
	ErrInvalidParity = errors.New("fec: invalid parity count")

	// ErrInvalidVectorSize occurs when the maximum vector size is not positive.
	ErrInvalidVectorSize = errors.New("fec: invalid vector size")

	// ErrParityVectors occurs when fewer parity vectors than the encoder's
	// parity count are passed in.
	ErrParityVectors = errors.New("fec: not enough parity vectors")
)

// Encoder produces parity for data vectors with an LFSR over the generator
// polynomial (x+a)(x+a^2)...(x+a^nparity).
type Encoder struct {
	npar    int
	vecSize int
	gen     []byte // gen[i] is the coefficient of x^i, gen[npar] == 1
}

// NewEncoder creates an Encoder for nparity parity vectors of up to maxVectorSize bytes.
func NewEncoder(nparity, maxVectorSize int) (*Encoder, error) {
	if nparity < 0 || nparity >= MaxParity {
		return nil, ErrInvalidParity
	}
	if maxVectorSize <= 0 {
		return nil, ErrInvalidVectorSize
	}
	return &Encoder{
		npar:    nparity,
		vecSize: maxVectorSize,
		gen:     generator(nparity),
	}, nil
}

func generator(npar int) []byte {
	g := make([]byte, npar+1)
	g[0] = 1
	for n := 1; n <= npar; n++ {
		root := alphaPow(n)
		for i := n; i > 0; i-- {
			g[i] = g[i-1] ^ gmult[root][g[i]]
		}
		g[0] = gmult[root][g[0]]
	}
	return g
}

// NumParity returns the number of parity vectors the encoder fills.
func (e *Encoder) NumParity() int { return e.npar }

// Encode folds one data vector into the parity vectors. It must be called
// once per data vector of a block, in order, on parity zeroed before the first
// call. Data shorter than the parity vectors is treated as zero padded.
func (e *Encoder) Encode(data []byte, parity [][]byte) error {
	if e.npar == 0 {
		return nil
	}
	if len(parity) < e.npar {
		return ErrParityVectors
	}
	size := len(parity[0])
	if size > e.vecSize {
		size = e.vecSize
	}
	last := e.npar - 1
	for i := 0; i < size; i++ {
		var d byte
		if i < len(data) {
			d = data[i]
		}
		fb := &gmult[d^parity[0][i]]
		for j := 0; j < last; j++ {
			parity[j][i] = parity[j+1][i] ^ fb[e.gen[last-j]]
		}
		parity[last][i] = fb[e.gen[0]]
	}
	return nil
}
