package protocol

import (
	"encoding/binary"
	"strings"
)

// Flags are the object flags carried in INFO, DATA and PARITY headers.
type Flags byte

// Object flags.
const (
	FlagRepair        = Flags(0x01)
	FlagBlockEnd      = Flags(0x02)
	FlagRunt          = Flags(0x04)
	FlagInfoAvailable = Flags(0x10)
	FlagUnreliable    = Flags(0x20)
	FlagFile          = Flags(0x80)
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	for _, v := range []struct {
		f    Flags
		name string
	}{
		{FlagRepair, "REPAIR"},
		{FlagBlockEnd, "BLOCK_END"},
		{FlagRunt, "RUNT"},
		{FlagInfoAvailable, "INFO"},
		{FlagUnreliable, "UNRELIABLE"},
		{FlagFile, "FILE"},
	} {
		if f&v.f != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}

// ObjectHeader is shared by INFO, DATA and PARITY messages.
type ObjectHeader struct {
	Sequence   uint16
	ObjectID   uint32
	ObjectSize uint32
	NData      uint8
	NParity    uint8
	Flags      Flags
	GRTT       uint8
}

const objectHeaderBodyLen = ObjectHeaderLen - HeaderLen

// Object returns the header itself so object bodies can be handled uniformly.
func (h *ObjectHeader) Object() *ObjectHeader { return h }

func (h *ObjectHeader) pack(b []byte) {
	binary.BigEndian.PutUint16(b, h.Sequence)
	binary.BigEndian.PutUint32(b[2:], h.ObjectID)
	binary.BigEndian.PutUint32(b[6:], h.ObjectSize)
	b[10] = h.NData
	b[11] = h.NParity
	b[12] = byte(h.Flags)
	b[13] = h.GRTT
}

func (h *ObjectHeader) unpack(b []byte) error {
	if len(b) < objectHeaderBodyLen {
		return ErrBadMessage
	}
	h.Sequence = binary.BigEndian.Uint16(b)
	h.ObjectID = binary.BigEndian.Uint32(b[2:])
	h.ObjectSize = binary.BigEndian.Uint32(b[6:])
	h.NData = b[10]
	h.NParity = b[11]
	h.Flags = Flags(b[12])
	h.GRTT = b[13]
	if h.NData == 0 {
		return ErrBadMessage
	}
	return nil
}

// ObjectBody is implemented by INFO, DATA and PARITY bodies.
type ObjectBody interface {
	Body
	Object() *ObjectHeader
}

// Info carries the application info attached to an object.
type Info struct {
	ObjectHeader
	SegmentSize uint16
	Payload     []byte
}

// Type implements Body.
func (*Info) Type() MsgType { return TypeInfo }

func (m *Info) bodyLen() int { return objectHeaderBodyLen + 2 + len(m.Payload) }

func (m *Info) pack(b []byte) {
	m.ObjectHeader.pack(b)
	binary.BigEndian.PutUint16(b[objectHeaderBodyLen:], m.SegmentSize)
	copy(b[objectHeaderBodyLen+2:], m.Payload)
}

func unpackInfo(b []byte) (*Info, error) {
	m := new(Info)
	if err := m.ObjectHeader.unpack(b); err != nil {
		return nil, err
	}
	b = b[objectHeaderBodyLen:]
	if len(b) < 2 {
		return nil, ErrBadMessage
	}
	m.SegmentSize = binary.BigEndian.Uint16(b)
	m.Payload = tail(b[2:])
	return m, nil
}

// Data carries one data segment. SegmentSize is on the wire only for RUNT
// segments; otherwise it equals the payload length.
type Data struct {
	ObjectHeader
	Offset      uint32
	SegmentSize uint16
	Payload     []byte
}

// Type implements Body.
func (*Data) Type() MsgType { return TypeData }

func (m *Data) bodyLen() int {
	n := objectHeaderBodyLen + 4 + len(m.Payload)
	if m.Flags&FlagRunt != 0 {
		n += 2
	}
	return n
}

func (m *Data) pack(b []byte) {
	m.ObjectHeader.pack(b)
	b = b[objectHeaderBodyLen:]
	binary.BigEndian.PutUint32(b, m.Offset)
	b = b[4:]
	if m.Flags&FlagRunt != 0 {
		binary.BigEndian.PutUint16(b, m.SegmentSize)
		b = b[2:]
	}
	copy(b, m.Payload)
}

func unpackData(b []byte) (*Data, error) {
	m := new(Data)
	if err := m.ObjectHeader.unpack(b); err != nil {
		return nil, err
	}
	b = b[objectHeaderBodyLen:]
	if len(b) < 4 {
		return nil, ErrBadMessage
	}
	m.Offset = binary.BigEndian.Uint32(b)
	b = b[4:]
	if m.Flags&FlagRunt != 0 {
		if len(b) < 2 {
			return nil, ErrBadMessage
		}
		m.SegmentSize = binary.BigEndian.Uint16(b)
		b = b[2:]
		if len(b) > int(m.SegmentSize) {
			return nil, ErrBadMessage
		}
	} else {
		m.SegmentSize = uint16(len(b))
	}
	m.Payload = tail(b)
	return m, nil
}

// Parity carries one parity segment of the block starting at Offset.
type Parity struct {
	ObjectHeader
	Offset   uint32
	ParityID uint8
	Payload  []byte
}

// Type implements Body.
func (*Parity) Type() MsgType { return TypeParity }

func (m *Parity) bodyLen() int { return objectHeaderBodyLen + 5 + len(m.Payload) }

func (m *Parity) pack(b []byte) {
	m.ObjectHeader.pack(b)
	b = b[objectHeaderBodyLen:]
	binary.BigEndian.PutUint32(b, m.Offset)
	b[4] = m.ParityID
	copy(b[5:], m.Payload)
}

func unpackParity(b []byte) (*Parity, error) {
	m := new(Parity)
	if err := m.ObjectHeader.unpack(b); err != nil {
		return nil, err
	}
	b = b[objectHeaderBodyLen:]
	if len(b) < 5 {
		return nil, ErrBadMessage
	}
	m.Offset = binary.BigEndian.Uint32(b)
	m.ParityID = b[4]
	if m.ParityID >= m.NParity {
		return nil, ErrBadMessage
	}
	m.Payload = tail(b[5:])
	return m, nil
}
