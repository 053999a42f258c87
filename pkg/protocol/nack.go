package protocol

import (
	"encoding/binary"
	"fmt"
)

// RepairKind identifies a RepairNack layout.
type RepairKind uint8

// Repair kinds.
const (
	RepairSegments = RepairKind(1)
	RepairBlocks   = RepairKind(2)
	RepairInfo     = RepairKind(3)
	RepairObject   = RepairKind(4)
)

func (k RepairKind) String() string {
	switch k {
	case RepairSegments:
		return "SEGMENTS"
	case RepairBlocks:
		return "BLOCKS"
	case RepairInfo:
		return "INFO"
	case RepairObject:
		return "OBJECT"
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

const objectNackHeaderLen = 4 + 2 // objectId, len

// RepairNack is one repair request inside an ObjectNack.
//
// For RepairSegments, Mask marks (MSB-first) the missing vectors of block
// BlockID and NErasure is the number of segments the sender still needs.
// For RepairBlocks, bit i of Mask requests block BlockID+i in full.
type RepairNack struct {
	Kind     RepairKind
	NErasure uint8
	BlockID  uint32
	Mask     []byte
}

// Len returns the packed size of the repair.
func (r *RepairNack) Len() int {
	switch r.Kind {
	case RepairSegments:
		return 1 + 1 + 4 + 2 + len(r.Mask)
	case RepairBlocks:
		return 1 + 4 + 2 + len(r.Mask)
	default:
		return 1
	}
}

func (r *RepairNack) pack(b []byte) int {
	b[0] = byte(r.Kind)
	switch r.Kind {
	case RepairSegments:
		b[1] = r.NErasure
		binary.BigEndian.PutUint32(b[2:], r.BlockID)
		binary.BigEndian.PutUint16(b[6:], uint16(len(r.Mask)))
		copy(b[8:], r.Mask)
	case RepairBlocks:
		binary.BigEndian.PutUint32(b[1:], r.BlockID)
		binary.BigEndian.PutUint16(b[5:], uint16(len(r.Mask)))
		copy(b[7:], r.Mask)
	}
	return r.Len()
}

// unpack reads one repair from b, returning its length or 0 when b holds no
// complete, well formed repair.
func (r *RepairNack) unpack(b []byte) int {
	if len(b) < 1 {
		return 0
	}
	r.Kind = RepairKind(b[0])
	r.NErasure, r.BlockID, r.Mask = 0, 0, nil
	switch r.Kind {
	case RepairSegments:
		if len(b) < 8 {
			return 0
		}
		r.NErasure = b[1]
		r.BlockID = binary.BigEndian.Uint32(b[2:])
		n := int(binary.BigEndian.Uint16(b[6:]))
		if len(b) < 8+n {
			return 0
		}
		r.Mask = b[8 : 8+n]
		return 8 + n
	case RepairBlocks:
		if len(b) < 7 {
			return 0
		}
		r.BlockID = binary.BigEndian.Uint32(b[1:])
		n := int(binary.BigEndian.Uint16(b[5:]))
		if len(b) < 7+n {
			return 0
		}
		r.Mask = b[7 : 7+n]
		return 7 + n
	case RepairInfo, RepairObject:
		return 1
	}
	return 0
}

// NackWriter builds NACK content in a fixed buffer. Entries that do not fit
// are refused, never truncated.
type NackWriter struct {
	buf     []byte
	n       int
	objOpen bool
	objAt   int
	objLen  int
}

// NewNackWriter returns a writer over buf. The capacity is len(buf).
func NewNackWriter(buf []byte) *NackWriter {
	return &NackWriter{buf: buf}
}

// Reset empties the writer and makes it write into buf.
func (w *NackWriter) Reset(buf []byte) {
	*w = NackWriter{buf: buf}
}

// Len returns the number of content bytes written.
func (w *NackWriter) Len() int { return w.n }

// Remaining returns the free capacity.
func (w *NackWriter) Remaining() int { return len(w.buf) - w.n }

// Bytes returns the content written so far. An open object is not included.
func (w *NackWriter) Bytes() []byte {
	if w.objOpen {
		return w.buf[:w.objAt]
	}
	return w.buf[:w.n]
}

// OpenObject starts an ObjectNack for id. It returns false when not even the
// object header and one repair would fit.
func (w *NackWriter) OpenObject(id uint32) bool {
	if w.objOpen {
		w.CloseObject()
	}
	if w.Remaining() < objectNackHeaderLen+1 {
		return false
	}
	w.objOpen = true
	w.objAt = w.n
	w.objLen = 0
	binary.BigEndian.PutUint32(w.buf[w.n:], id)
	w.n += objectNackHeaderLen
	return true
}

// AppendRepair adds a repair to the open object. It returns false when the
// repair does not fit.
func (w *NackWriter) AppendRepair(r RepairNack) bool {
	if !w.objOpen {
		return false
	}
	n := r.Len()
	if n > w.Remaining() || w.objLen+n > 0xffff {
		return false
	}
	r.pack(w.buf[w.n:])
	w.n += n
	w.objLen += n
	return true
}

// CloseObject finishes the open object. An object without repairs is discarded.
func (w *NackWriter) CloseObject() {
	if !w.objOpen {
		return
	}
	w.objOpen = false
	if w.objLen == 0 {
		w.n = w.objAt
		return
	}
	binary.BigEndian.PutUint16(w.buf[w.objAt+4:], uint16(w.objLen))
}

// ObjectNack is the repair list for one object.
type ObjectNack struct {
	ObjectID uint32
	Repairs  []byte
}

// Range calls fn for every complete repair in order until fn returns false.
// A truncated or unknown trailing repair ends the walk.
func (o *ObjectNack) Range(fn func(r *RepairNack) bool) {
	var r RepairNack
	b := o.Repairs
	for len(b) > 0 {
		n := r.unpack(b)
		if n == 0 {
			return
		}
		if !fn(&r) {
			return
		}
		b = b[n:]
	}
}

// NackReader walks NACK content.
type NackReader struct {
	b []byte
}

// NewNackReader returns a reader over content.
func NewNackReader(content []byte) *NackReader { return &NackReader{b: content} }

// Next returns the next complete ObjectNack. Truncated trailing records are dropped.
func (r *NackReader) Next() (ObjectNack, bool) {
	if len(r.b) < objectNackHeaderLen {
		r.b = nil
		return ObjectNack{}, false
	}
	id := binary.BigEndian.Uint32(r.b)
	n := int(binary.BigEndian.Uint16(r.b[4:]))
	if len(r.b) < objectNackHeaderLen+n {
		r.b = nil
		return ObjectNack{}, false
	}
	o := ObjectNack{ObjectID: id, Repairs: r.b[objectNackHeaderLen : objectNackHeaderLen+n]}
	r.b = r.b[objectNackHeaderLen+n:]
	return o, true
}
