package bitmask

// weight holds the number of set bits of every byte value.
var weight [256]uint8

// bitLocs holds, for every byte value, the positions of its set bits in
// MSB-first order. Only the first weight[v] entries of bitLocs[v] are valid.
var bitLocs [256][8]uint8

func init() {
	for v := 0; v < 256; v++ {
		var n uint8
		for pos := uint8(0); pos < 8; pos++ {
			if v&(0x80>>pos) != 0 {
				bitLocs[v][n] = pos
				n++
			}
		}
		weight[v] = n
	}
}

// Weight returns the number of set bits in b.
func Weight(b byte) int { return int(weight[b]) }

// ParseMask appends to out the indexes of the bits set in mask that are below
// maxBits, in ascending order, and returns the extended slice.
func ParseMask(mask []byte, maxBits int, out []int) []int {
	for i, v := range mask {
		base := i << 3
		if base >= maxBits {
			break
		}
		locs := &bitLocs[v]
		for j := uint8(0); j < weight[v]; j++ {
			index := base + int(locs[j])
			if index >= maxBits {
				return out
			}
			out = append(out, index)
		}
	}
	return out
}
