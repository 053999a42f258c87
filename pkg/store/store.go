// Package store holds the object data sinks a session reads transmitted
// segments from and writes received segments to.
package store

import (
	"errors"
	"io"
)

var (
	// ErrOutOfRange occurs when a segment falls outside the object.
	ErrOutOfRange = errors.New("store: segment out of range")

	// ErrClosed occurs on access to a closed sink.
	ErrClosed = errors.New("store: closed")
)

// ObjectData is the backing store of one object.
type ObjectData interface {
	// ReadSegment reads up to len(buf) bytes at offset. Reads that end past
	// Size are short, never an error.
	ReadSegment(offset int64, buf []byte) (int, error)
	// WriteSegment writes data at offset. The write must lie within Size.
	WriteSegment(offset int64, data []byte) error
	Size() int64
	io.Closer
}

// Completer is implemented by sinks that must be finalized once every
// segment has been written, e.g. renamed from a partial file.
type Completer interface {
	Complete() error
}

// Discarder is implemented by sinks whose partial content should be removed
// when a transfer is aborted.
type Discarder interface {
	Discard() error
}

// Meta describes an incoming object a Factory opens a sink for.
type Meta struct {
	Sender   uint32
	ObjectID uint32
	Size     int64
	Info     []byte
	File     bool
}

// Factory opens receive sinks for incoming objects.
type Factory interface {
	Open(meta Meta) (ObjectData, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(meta Meta) (ObjectData, error)

// Open implements Factory.
func (f FactoryFunc) Open(meta Meta) (ObjectData, error) { return f(meta) }

func checkRange(offset int64, n int, size int64) error {
	if offset < 0 || offset+int64(n) > size {
		return ErrOutOfRange
	}
	return nil
}
