package protocol

import "encoding/binary"

// FlushEOT marks the final flush of a server that is shutting down.
const FlushEOT = 0x01

// GrttReqCongestion marks a GRTT probe that also collects congestion feedback.
const GrttReqCongestion = 0x01

func packCmd(b []byte, grtt uint8, f CmdFlavor) []byte {
	b[0] = grtt
	b[1] = byte(f)
	return b[2:]
}

// Flush tells clients the server has nothing new to send after ObjectID.
type Flush struct {
	GRTT     uint8
	Flags    uint8
	ObjectID uint32
}

// Type implements Body.
func (*Flush) Type() MsgType { return TypeCmd }

// Flavor implements Command.
func (*Flush) Flavor() CmdFlavor { return CmdFlush }

func (m *Flush) bodyLen() int { return 2 + 5 }

func (m *Flush) pack(b []byte) {
	b = packCmd(b, m.GRTT, CmdFlush)
	b[0] = m.Flags
	binary.BigEndian.PutUint32(b[1:], m.ObjectID)
}

// Squelch tells clients to drop the listed objects and everything before SyncID.
type Squelch struct {
	GRTT   uint8
	SyncID uint32
	IDs    []uint32
}

// Type implements Body.
func (*Squelch) Type() MsgType { return TypeCmd }

// Flavor implements Command.
func (*Squelch) Flavor() CmdFlavor { return CmdSquelch }

func (m *Squelch) bodyLen() int { return 2 + 4 + 4*len(m.IDs) }

func (m *Squelch) pack(b []byte) {
	b = packCmd(b, m.GRTT, CmdSquelch)
	binary.BigEndian.PutUint32(b, m.SyncID)
	putIDs(b[4:], m.IDs)
}

// AckReq asks the listed nodes to positively acknowledge ObjectID.
type AckReq struct {
	GRTT     uint8
	ObjectID uint32
	Nodes    []uint32
}

// Type implements Body.
func (*AckReq) Type() MsgType { return TypeCmd }

// Flavor implements Command.
func (*AckReq) Flavor() CmdFlavor { return CmdAckReq }

func (m *AckReq) bodyLen() int { return 2 + 4 + 4*len(m.Nodes) }

func (m *AckReq) pack(b []byte) {
	b = packCmd(b, m.GRTT, CmdAckReq)
	binary.BigEndian.PutUint32(b, m.ObjectID)
	putIDs(b[4:], m.Nodes)
}

// GrttReq probes the group round trip time. Nodes lists the clients whose
// responses are explicitly requested (congestion control representatives).
type GrttReq struct {
	GRTT        uint8
	Flags       uint8
	Seq         uint8
	SendTime    Timestamp
	HoldTime    Timestamp
	SegmentSize uint16
	Rate        uint32
	RTT         uint8
	Loss        uint16
	Nodes       []uint32
}

const grttReqFixedLen = 2 + 1 + 1 + 8 + 8 + 2 + 4 + 1 + 2

// Type implements Body.
func (*GrttReq) Type() MsgType { return TypeCmd }

// Flavor implements Command.
func (*GrttReq) Flavor() CmdFlavor { return CmdGrttReq }

func (m *GrttReq) bodyLen() int { return grttReqFixedLen + 4*len(m.Nodes) }

func (m *GrttReq) pack(b []byte) {
	b = packCmd(b, m.GRTT, CmdGrttReq)
	b[0] = m.Flags
	b[1] = m.Seq
	putTimestamp(b[2:], m.SendTime)
	putTimestamp(b[10:], m.HoldTime)
	binary.BigEndian.PutUint16(b[18:], m.SegmentSize)
	binary.BigEndian.PutUint32(b[20:], m.Rate)
	b[24] = m.RTT
	binary.BigEndian.PutUint16(b[25:], m.Loss)
	putIDs(b[27:], m.Nodes)
}

// NackAdv re-advertises NACK content received by unicast so that other
// clients can suppress their own.
type NackAdv struct {
	GRTT    uint8
	Content []byte
}

// Type implements Body.
func (*NackAdv) Type() MsgType { return TypeCmd }

// Flavor implements Command.
func (*NackAdv) Flavor() CmdFlavor { return CmdNackAdv }

func (m *NackAdv) bodyLen() int { return 2 + len(m.Content) }

func (m *NackAdv) pack(b []byte) {
	b = packCmd(b, m.GRTT, CmdNackAdv)
	copy(b, m.Content)
}

// CmdGRTT returns the quantized GRTT every command carries.
func CmdGRTT(c Command) uint8 {
	switch m := c.(type) {
	case *Flush:
		return m.GRTT
	case *Squelch:
		return m.GRTT
	case *AckReq:
		return m.GRTT
	case *GrttReq:
		return m.GRTT
	case *NackAdv:
		return m.GRTT
	}
	return 0
}

func unpackCmd(b []byte) (Command, error) {
	if len(b) < 2 {
		return nil, ErrBadMessage
	}
	grtt, flavor := b[0], CmdFlavor(b[1])
	b = b[2:]
	var err error
	switch flavor {
	case CmdFlush:
		if len(b) != 5 {
			return nil, ErrBadMessage
		}
		return &Flush{GRTT: grtt, Flags: b[0], ObjectID: binary.BigEndian.Uint32(b[1:])}, nil
	case CmdSquelch:
		if len(b) < 4 {
			return nil, ErrBadMessage
		}
		m := &Squelch{GRTT: grtt, SyncID: binary.BigEndian.Uint32(b)}
		if m.IDs, err = readIDs(b[4:]); err != nil {
			return nil, err
		}
		return m, nil
	case CmdAckReq:
		if len(b) < 4 {
			return nil, ErrBadMessage
		}
		m := &AckReq{GRTT: grtt, ObjectID: binary.BigEndian.Uint32(b)}
		if m.Nodes, err = readIDs(b[4:]); err != nil {
			return nil, err
		}
		return m, nil
	case CmdGrttReq:
		if len(b) < grttReqFixedLen-2 {
			return nil, ErrBadMessage
		}
		m := &GrttReq{
			GRTT:        grtt,
			Flags:       b[0],
			Seq:         b[1],
			SendTime:    readTimestamp(b[2:]),
			HoldTime:    readTimestamp(b[10:]),
			SegmentSize: binary.BigEndian.Uint16(b[18:]),
			Rate:        binary.BigEndian.Uint32(b[20:]),
			RTT:         b[24],
			Loss:        binary.BigEndian.Uint16(b[25:]),
		}
		if m.Nodes, err = readIDs(b[27:]); err != nil {
			return nil, err
		}
		return m, nil
	case CmdNackAdv:
		return &NackAdv{GRTT: grtt, Content: tail(b)}, nil
	default:
		return nil, ErrUnknownType
	}
}
