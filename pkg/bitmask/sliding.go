package bitmask

// SlidingBitField is a bit field indexed by 32-bit sequence identifiers. It
// covers the window [Offset(), Offset()+NumBits()) where offset is always a
// multiple of 8. Ids are compared with windowed modular arithmetic, so the
// window may span the 0xFFFFFFFF -> 0 wrap.
//
// Setting an id outside the window relocates it: the window is shifted to
// drop a stale unset prefix and, if that is not enough, grown by doubling, up
// to maxBits. When neither keeps every set bit, ErrWindowOverflow is returned
// and the field is left untouched.
type SlidingBitField struct {
	bits    BitField
	offset  uint32
	maxBits int
}

// Init sizes the window to numBits (rounded up to a byte) with room to grow to maxBits.
func (s *SlidingBitField) Init(numBits, maxBits int) error {
	numBits = roundUp(numBits)
	maxBits = roundUp(maxBits)
	if maxBits < numBits {
		maxBits = numBits
	}
	if err := s.bits.Init(numBits); err != nil {
		return err
	}
	if maxBits > MaxBits {
		return ErrInvalidSize
	}
	s.maxBits = maxBits
	s.offset = 0
	return nil
}

// Offset returns the id of the first bit of the window.
func (s *SlidingBitField) Offset() uint32 { return s.offset }

// NumBits returns the current window size.
func (s *SlidingBitField) NumBits() int { return s.bits.numBits }

// MaxBits returns the largest size the window can grow to.
func (s *SlidingBitField) MaxBits() int { return s.maxBits }

// IsSet reports whether any id is set.
func (s *SlidingBitField) IsSet() bool { return s.bits.IsSet() }

// Count returns the number of set ids.
func (s *SlidingBitField) Count() int { return s.bits.Count() }

// Clear unsets every id. The window position is kept.
func (s *SlidingBitField) Clear() { s.bits.Clear() }

func (s *SlidingBitField) index(id uint32) (int, bool) {
	d := int32(id - s.offset)
	if d < 0 || int(d) >= s.bits.numBits {
		return 0, false
	}
	return int(d), true
}

// Test reports whether id is set.
func (s *SlidingBitField) Test(id uint32) bool {
	i, ok := s.index(id)
	return ok && s.bits.Test(i)
}

// Set sets id, relocating the window if needed.
func (s *SlidingBitField) Set(id uint32) error {
	if !s.bits.IsSet() {
		s.offset = id &^ 7
	} else if _, ok := s.index(id); !ok {
		if err := s.relocate(id, id); err != nil {
			return err
		}
	}
	i, _ := s.index(id)
	s.bits.Set(i)
	return nil
}

// SetRange sets count consecutive ids starting at id.
func (s *SlidingBitField) SetRange(id uint32, count int) error {
	if count <= 0 {
		return nil
	}
	last := id + uint32(count-1)
	if !s.bits.IsSet() {
		s.offset = id &^ 7
		if int(last-s.offset) >= s.bits.numBits {
			if err := s.resize(s.offset, int(last-s.offset)+1); err != nil {
				return err
			}
		}
	} else {
		_, okFirst := s.index(id)
		_, okLast := s.index(last)
		if !okFirst || !okLast {
			if err := s.relocate(id, last); err != nil {
				return err
			}
		}
	}
	i, _ := s.index(id)
	s.bits.SetRange(i, count)
	return nil
}

// Unset clears id. Ids outside the window are already unset.
func (s *SlidingBitField) Unset(id uint32) {
	if i, ok := s.index(id); ok {
		s.bits.Unset(i)
	}
}

// FirstSet returns the lowest set id.
func (s *SlidingBitField) FirstSet() (uint32, bool) {
	if !s.bits.IsSet() {
		return 0, false
	}
	return s.offset + uint32(s.bits.firstSet), true
}

// LastSet returns the highest set id.
func (s *SlidingBitField) LastSet() (uint32, bool) {
	i := s.bits.LastSet()
	if i < 0 {
		return 0, false
	}
	return s.offset + uint32(i), true
}

// NextSet returns the lowest set id that is not before id.
func (s *SlidingBitField) NextSet(id uint32) (uint32, bool) {
	if !s.bits.IsSet() {
		return 0, false
	}
	d := int32(id - s.offset)
	if d < 0 {
		d = 0
	}
	if int(d) >= s.bits.numBits {
		return 0, false
	}
	i := s.bits.NextSet(int(d))
	if i >= s.bits.numBits {
		return 0, false
	}
	return s.offset + uint32(i), true
}

// CanSet reports whether id can be set without overflowing the window.
func (s *SlidingBitField) CanSet(id uint32) bool {
	if !s.bits.IsSet() {
		return true
	}
	if _, ok := s.index(id); ok {
		return true
	}
	lo, hi := s.span(id, id)
	return int(hi-lo)+1 <= s.maxBits
}

// CanGrowTo reports whether growing the window to include id keeps every set
// bit. It is the same test as CanSet.
func (s *SlidingBitField) CanGrowTo(id uint32) bool { return s.CanSet(id) }

// Grow enlarges (and if needed shifts) the window so that it covers id.
func (s *SlidingBitField) Grow(id uint32) error {
	if _, ok := s.index(id); ok {
		return nil
	}
	if !s.bits.IsSet() {
		s.offset = id &^ 7
		return nil
	}
	return s.relocate(id, id)
}

// Compact moves the window start up to the byte holding the first set bit,
// discarding the stale unset prefix.
func (s *SlidingBitField) Compact() {
	first, ok := s.FirstSet()
	if !ok {
		return
	}
	newOffset := first &^ 7
	if newOffset == s.offset {
		return
	}
	shift := int(newOffset-s.offset) >> 3
	copy(s.bits.mask, s.bits.mask[shift:])
	tail := s.bits.mask[len(s.bits.mask)-shift:]
	for i := range tail {
		tail[i] = 0
	}
	s.offset = newOffset
	s.bits.firstSet = s.bits.scan(0)
}

// span returns the window [lo, hi] needed to keep every set bit and cover [first, last].
func (s *SlidingBitField) span(first, last uint32) (lo, hi uint32) {
	setLo, _ := s.FirstSet()
	setHi, _ := s.LastSet()
	lo, hi = setLo, setHi
	if int32(first-lo) < 0 {
		lo = first
	}
	if int32(hi-last) < 0 {
		hi = last
	}
	return lo &^ 7, hi
}

func (s *SlidingBitField) relocate(first, last uint32) error {
	lo, hi := s.span(first, last)
	need := int(hi-lo) + 1
	if need > s.maxBits {
		return ErrWindowOverflow
	}
	return s.resize(lo, need)
}

// resize rebuilds the backing buffer with the window starting at newOffset
// and at least need bits, doubling the size while it is too small.
func (s *SlidingBitField) resize(newOffset uint32, need int) error {
	size := s.bits.numBits
	for size < need {
		size <<= 1
	}
	if size > s.maxBits {
		size = s.maxBits
	}
	if size < need {
		return ErrWindowOverflow
	}
	old := s.bits.mask
	var next BitField
	if err := next.Init(size); err != nil {
		return err
	}
	if s.bits.IsSet() {
		delta := int(int32(s.offset-newOffset)) >> 3
		for i, v := range old {
			if v == 0 {
				continue
			}
			j := i + delta
			if j < 0 || j >= len(next.mask) {
				return ErrWindowOverflow
			}
			next.mask[j] = v
		}
		next.firstSet = next.scan(0)
	}
	s.bits = next
	s.offset = newOffset
	return nil
}

func roundUp(n int) int {
	if n <= 0 {
		n = 8
	}
	return (n + 7) &^ 7
}
