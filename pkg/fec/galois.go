// Package fec implements the systematic Reed-Solomon erasure code over
// GF(2^8) used to generate and apply block parity.
//
// A block of n vectors is a codeword: vector v holds the coefficient of
// degree n-1-v, data vectors first and parity vectors last. Every byte offset
// of the vectors is an independent codeword sharing the same erasure set.
package fec

// primitive polynomial x^8+x^4+x^3+x^2+1
const fieldPoly = 0x11d

var (
	gexp  [512]byte
	glog  [256]int
	gmult [256][256]byte
	ginv  [256]byte
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gexp[i] = byte(x)
		glog[x] = i
		x <<= 1
		if x&0x100 != 0 {
			x ^= fieldPoly
		}
	}
	for i := 255; i < len(gexp); i++ {
		gexp[i] = gexp[i-255]
	}
	for a := 1; a < 256; a++ {
		for b := 1; b < 256; b++ {
			gmult[a][b] = gexp[glog[a]+glog[b]]
		}
		ginv[a] = gexp[255-glog[a]]
	}
}

// alphaPow returns a^e for any e >= 0.
func alphaPow(e int) byte { return gexp[e%255] }

// mulAdd computes dst[i] ^= c*src[i].
func mulAdd(dst, src []byte, c byte) {
	if c == 0 {
		return
	}
	row := &gmult[c]
	if len(src) > len(dst) {
		src = src[:len(dst)]
	}
	for i, v := range src {
		dst[i] ^= row[v]
	}
}
