package store

// Memory is an ObjectData kept in a byte slice.
type Memory struct {
	buf    []byte
	closed bool
}

// NewMemory returns a zeroed in-memory object of size bytes.
func NewMemory(size int64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// MemoryFrom wraps b. The slice is not copied.
func MemoryFrom(b []byte) *Memory {
	return &Memory{buf: b}
}

// Bytes returns the object content.
func (m *Memory) Bytes() []byte { return m.buf }

// ReadSegment implements ObjectData.
func (m *Memory) ReadSegment(offset int64, buf []byte) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if offset < 0 || offset > int64(len(m.buf)) {
		return 0, ErrOutOfRange
	}
	return copy(buf, m.buf[offset:]), nil
}

// WriteSegment implements ObjectData.
func (m *Memory) WriteSegment(offset int64, data []byte) error {
	if m.closed {
		return ErrClosed
	}
	if err := checkRange(offset, len(data), int64(len(m.buf))); err != nil {
		return err
	}
	copy(m.buf[offset:], data)
	return nil
}

// Size implements ObjectData.
func (m *Memory) Size() int64 { return int64(len(m.buf)) }

// Close implements io.Closer. The content stays readable through Bytes.
func (m *Memory) Close() error {
	m.closed = true
	return nil
}

// MemoryFactory opens every incoming object in memory.
type MemoryFactory struct{}

// Open implements Factory.
func (MemoryFactory) Open(meta Meta) (ObjectData, error) {
	return NewMemory(meta.Size), nil
}
