// Package bitmask provides the fixed and sliding bit fields used to track
// which segments, blocks and objects still need transmission or repair.
//
// Bits are numbered MSB-first inside each byte, so bit 0 is the 0x80 bit of
// the first byte. This matches the layout of repair masks on the wire.
package bitmask

import "errors"

// MaxBits is the largest supported field size.
const MaxBits = 1 << 28

var (
	// ErrInvalidSize occurs when a field is initialized with a size outside [1, MaxBits].
	ErrInvalidSize = errors.New("bitmask: invalid size")

	// ErrWindowOverflow occurs when a sliding field cannot cover an index
	// without exceeding its maximum size or dropping set bits.
	ErrWindowOverflow = errors.New("bitmask: window overflow")
)

// BitField is a fixed-size bit mask that caches the index of its lowest set bit.
// The zero value is an empty field of size zero; call Init before use.
type BitField struct {
	mask     []byte
	numBits  int
	firstSet int
}

// New returns an initialized, cleared BitField of numBits bits.
func New(numBits int) (*BitField, error) {
	b := new(BitField)
	if err := b.Init(numBits); err != nil {
		return nil, err
	}
	return b, nil
}

// Init (re)sizes the field to numBits and clears it. The backing buffer is
// reused when it is large enough.
func (b *BitField) Init(numBits int) error {
	if numBits <= 0 || numBits > MaxBits {
		return ErrInvalidSize
	}
	n := (numBits + 7) >> 3
	if cap(b.mask) >= n {
		b.mask = b.mask[:n]
		for i := range b.mask {
			b.mask[i] = 0
		}
	} else {
		b.mask = make([]byte, n)
	}
	b.numBits = numBits
	b.firstSet = numBits
	return nil
}

// NumBits returns the size of the field.
func (b *BitField) NumBits() int { return b.numBits }

// IsSet reports whether any bit is set.
func (b *BitField) IsSet() bool { return b.firstSet < b.numBits }

// FirstSet returns the lowest set index, or NumBits when the field is empty.
func (b *BitField) FirstSet() int { return b.firstSet }

// Test reports whether bit i is set. Out of range indexes are never set.
func (b *BitField) Test(i int) bool {
	if i < 0 || i >= b.numBits {
		return false
	}
	return b.mask[i>>3]&(0x80>>uint(i&7)) != 0
}

// Set sets bit i. It returns false when i is out of range.
func (b *BitField) Set(i int) bool {
	if i < 0 || i >= b.numBits {
		return false
	}
	b.mask[i>>3] |= 0x80 >> uint(i&7)
	if i < b.firstSet {
		b.firstSet = i
	}
	return true
}

// Unset clears bit i. It returns false when i is out of range.
func (b *BitField) Unset(i int) bool {
	if i < 0 || i >= b.numBits {
		return false
	}
	b.mask[i>>3] &^= 0x80 >> uint(i&7)
	if i == b.firstSet {
		b.firstSet = b.scan(i + 1)
	}
	return true
}

// SetRange sets count bits starting at index.
func (b *BitField) SetRange(index, count int) bool {
	if count <= 0 {
		return count == 0
	}
	if index < 0 || index+count > b.numBits {
		return false
	}
	setBits(b.mask, index, count)
	if index < b.firstSet {
		b.firstSet = index
	}
	return true
}

// UnsetRange clears count bits starting at index.
func (b *BitField) UnsetRange(index, count int) bool {
	if count <= 0 {
		return count == 0
	}
	if index < 0 || index+count > b.numBits {
		return false
	}
	unsetBits(b.mask, index, count)
	if b.firstSet >= index && b.firstSet < index+count {
		b.firstSet = b.scan(index + count)
	}
	return true
}

// Clear unsets every bit.
func (b *BitField) Clear() {
	for i := range b.mask {
		b.mask[i] = 0
	}
	b.firstSet = b.numBits
}

// Reset sets every bit.
func (b *BitField) Reset() {
	if b.numBits == 0 {
		return
	}
	for i := range b.mask {
		b.mask[i] = 0xff
	}
	b.trim()
	b.firstSet = 0
}

// NextSet returns the lowest set index >= index, or NumBits if there is none.
func (b *BitField) NextSet(index int) int {
	if index <= b.firstSet {
		return b.firstSet
	}
	return b.scan(index)
}

// NextUnset returns the lowest unset index >= index, or NumBits if there is none.
func (b *BitField) NextUnset(index int) int {
	if index < 0 {
		index = 0
	}
	if index >= b.numBits {
		return b.numBits
	}
	maskIndex := index >> 3
	if v := ^b.mask[maskIndex] & (0xff >> uint(index&7)); v != 0 {
		return limit(maskIndex<<3+int(bitLocs[v][0]), b.numBits)
	}
	for maskIndex++; maskIndex < len(b.mask); maskIndex++ {
		if v := ^b.mask[maskIndex]; v != 0 {
			return limit(maskIndex<<3+int(bitLocs[v][0]), b.numBits)
		}
	}
	return b.numBits
}

// PrevSet returns the highest set index <= index, or -1 if there is none.
func (b *BitField) PrevSet(index int) int {
	if index >= b.numBits {
		index = b.numBits - 1
	}
	if index < b.firstSet {
		return -1
	}
	maskIndex := index >> 3
	if v := b.mask[maskIndex] & (0xff << uint(7-index&7)); v != 0 {
		return maskIndex<<3 + int(bitLocs[v][weight[v]-1])
	}
	for maskIndex--; maskIndex >= 0; maskIndex-- {
		if v := b.mask[maskIndex]; v != 0 {
			return maskIndex<<3 + int(bitLocs[v][weight[v]-1])
		}
	}
	return -1
}

// LastSet returns the highest set index, or -1 when the field is empty.
func (b *BitField) LastSet() int { return b.PrevSet(b.numBits - 1) }

// Count returns the number of set bits.
func (b *BitField) Count() int {
	if !b.IsSet() {
		return 0
	}
	n := 0
	for _, v := range b.mask[b.firstSet>>3:] {
		n += int(weight[v])
	}
	return n
}

// CountRange returns the number of set bits in [index, index+count).
func (b *BitField) CountRange(index, count int) int {
	n := 0
	for i := b.NextSet(index); i < index+count && i < b.numBits; i = b.NextSet(i + 1) {
		n++
	}
	return n
}

// Copy makes b an exact copy of src, resizing b as needed.
func (b *BitField) Copy(src *BitField) {
	if cap(b.mask) < len(src.mask) {
		b.mask = make([]byte, len(src.mask))
	}
	b.mask = b.mask[:len(src.mask)]
	copy(b.mask, src.mask)
	b.numBits = src.numBits
	b.firstSet = src.firstSet
}

// Or sets in b every bit set in other. Bits of other beyond b's size are ignored.
func (b *BitField) Or(other *BitField) {
	n := minInt(len(b.mask), len(other.mask))
	for i := 0; i < n; i++ {
		b.mask[i] |= other.mask[i]
	}
	b.trim()
	if other.firstSet < b.firstSet && other.firstSet < b.numBits {
		b.firstSet = other.firstSet
	}
}

// And clears in b every bit not set in other.
func (b *BitField) And(other *BitField) {
	n := minInt(len(b.mask), len(other.mask))
	for i := 0; i < n; i++ {
		b.mask[i] &= other.mask[i]
	}
	for i := n; i < len(b.mask); i++ {
		b.mask[i] = 0
	}
	b.firstSet = b.scan(b.firstSet)
}

// AndNot clears in b every bit set in other (b = b AND NOT other).
func (b *BitField) AndNot(other *BitField) {
	n := minInt(len(b.mask), len(other.mask))
	for i := 0; i < n; i++ {
		b.mask[i] &^= other.mask[i]
	}
	b.firstSet = b.scan(b.firstSet)
}

// XorCopy sets b to x XOR y. All three fields must have the same size.
func (b *BitField) XorCopy(x, y *BitField) bool {
	if x.numBits != y.numBits {
		return false
	}
	if b.numBits != x.numBits {
		if err := b.Init(x.numBits); err != nil {
			return false
		}
	}
	for i := range b.mask {
		b.mask[i] = x.mask[i] ^ y.mask[i]
	}
	b.firstSet = b.scan(0)
	return true
}

// OrMask sets every bit of raw (MSB-first) below numBits, starting at index.
// It returns the number of bits that were newly set.
func (b *BitField) OrMask(index int, raw []byte, numBits int) int {
	added := 0
	max := len(raw) << 3
	if numBits < max {
		max = numBits
	}
	for i, v := range raw {
		for j := uint8(0); j < weight[v]; j++ {
			bit := i<<3 + int(bitLocs[v][j])
			if bit >= max {
				break
			}
			if !b.Test(index+bit) && b.Set(index+bit) {
				added++
			}
		}
	}
	return added
}

// Mask returns the backing bytes that hold the first numBits bits. The slice
// aliases the field and must not be retained across mutations.
func (b *BitField) Mask(numBits int) []byte {
	if numBits > b.numBits {
		numBits = b.numBits
	}
	if numBits <= 0 {
		return b.mask[:0]
	}
	return b.mask[:(numBits+7)>>3]
}

// scan finds the lowest set index >= index without using the cached value.
func (b *BitField) scan(index int) int {
	if index < 0 {
		index = 0
	}
	if index >= b.numBits {
		return b.numBits
	}
	maskIndex := index >> 3
	if v := b.mask[maskIndex] & (0xff >> uint(index&7)); v != 0 {
		return maskIndex<<3 + int(bitLocs[v][0])
	}
	for maskIndex++; maskIndex < len(b.mask); maskIndex++ {
		if v := b.mask[maskIndex]; v != 0 {
			return maskIndex<<3 + int(bitLocs[v][0])
		}
	}
	return b.numBits
}

// trim clears the unused bits of the last byte.
func (b *BitField) trim() {
	if rem := b.numBits & 7; rem != 0 && len(b.mask) > 0 {
		b.mask[len(b.mask)-1] &= byte(0xff) << uint(8-rem)
	}
}

// setBits sets count bits from index: a partial leading byte, whole middle
// bytes and a partial trailing byte.
func setBits(mask []byte, index, count int) {
	maskIndex := index >> 3
	bitIndex := uint(index & 7)
	bitRemainder := 8 - int(bitIndex)
	if count <= bitRemainder {
		mask[maskIndex] |= (byte(0xff) >> bitIndex) & (byte(0xff) << uint(bitRemainder-count))
		return
	}
	mask[maskIndex] |= byte(0xff) >> bitIndex
	count -= bitRemainder
	maskIndex++
	nBytes := count >> 3
	whole := mask[maskIndex : maskIndex+nBytes]
	for i := range whole {
		whole[i] = 0xff
	}
	maskIndex += nBytes
	if rem := uint(count & 7); rem != 0 {
		mask[maskIndex] |= byte(0xff) << (8 - rem)
	}
}

func unsetBits(mask []byte, index, count int) {
	maskIndex := index >> 3
	bitIndex := uint(index & 7)
	bitRemainder := 8 - int(bitIndex)
	if count <= bitRemainder {
		mask[maskIndex] &^= (byte(0xff) >> bitIndex) & (byte(0xff) << uint(bitRemainder-count))
		return
	}
	mask[maskIndex] &^= byte(0xff) >> bitIndex
	count -= bitRemainder
	maskIndex++
	nBytes := count >> 3
	whole := mask[maskIndex : maskIndex+nBytes]
	for i := range whole {
		whole[i] = 0
	}
	maskIndex += nBytes
	if rem := uint(count & 7); rem != 0 {
		mask[maskIndex] &^= byte(0xff) << (8 - rem)
	}
}

func limit(i, n int) int {
	if i > n {
		return n
	}
	return i
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
