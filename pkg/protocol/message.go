package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the protocol version carried in every message.
const Version = 2

// Header sizes.
const (
	HeaderLen       = 6 // type(1), version(1), sender(4)
	ObjectHeaderLen = HeaderLen + 14
	CmdHeaderLen    = HeaderLen + 2 // grtt(1), flavor(1)
	NackHeaderLen   = HeaderLen + feedbackLen
	reportNameLen   = 40
	clientStatsLen  = 20 * 4
)

var (
	// ErrBadMessage occurs when a packet is truncated or internally inconsistent.
	ErrBadMessage = errors.New("protocol: malformed message")

	// ErrVersionMismatch occurs when a packet carries another protocol version.
	ErrVersionMismatch = errors.New("protocol: version mismatch")

	// ErrUnknownType occurs for unknown message types or command flavors.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrShortBuffer occurs when Pack is given a buffer smaller than the message.
	ErrShortBuffer = errors.New("protocol: buffer too short")
)

// MsgType is the first byte of every message.
type MsgType byte

// Message types.
const (
	TypeReport = MsgType(1)
	TypeInfo   = MsgType(2)
	TypeData   = MsgType(3)
	TypeParity = MsgType(4)
	TypeCmd    = MsgType(5)
	TypeNack   = MsgType(6)
	TypeAck    = MsgType(7)
)

func (t MsgType) String() string {
	var names = []string{
		TypeReport: "REPORT",
		TypeInfo:   "INFO",
		TypeData:   "DATA",
		TypeParity: "PARITY",
		TypeCmd:    "CMD",
		TypeNack:   "NACK",
		TypeAck:    "ACK",
	}
	if t == 0 || int(t) >= len(names) {
		return fmt.Sprintf("UNKNOWN:%d", t)
	}
	return names[t]
}

// Priority returns the transmit priority of the type. Higher values are sent first.
func (t MsgType) Priority() int {
	switch t {
	case TypeReport:
		return 0
	case TypeData:
		return 6
	case TypeParity:
		return 8
	case TypeInfo:
		return 10
	default:
		return 12
	}
}

// CmdFlavor selects the layout of a CMD message.
type CmdFlavor byte

// Command flavors.
const (
	CmdFlush   = CmdFlavor(1)
	CmdSquelch = CmdFlavor(2)
	CmdAckReq  = CmdFlavor(3)
	CmdGrttReq = CmdFlavor(4)
	CmdNackAdv = CmdFlavor(5)
)

func (f CmdFlavor) String() string {
	var names = []string{
		CmdFlush:   "FLUSH",
		CmdSquelch: "SQUELCH",
		CmdAckReq:  "ACK_REQ",
		CmdGrttReq: "GRTT_REQ",
		CmdNackAdv: "NACK_ADV",
	}
	if f == 0 || int(f) >= len(names) {
		return fmt.Sprintf("UNKNOWN:%d", f)
	}
	return names[f]
}

// Body is the type specific part of a message.
type Body interface {
	Type() MsgType
	bodyLen() int
	pack(b []byte)
}

// Command is a CMD body.
type Command interface {
	Body
	Flavor() CmdFlavor
}

// Message is a decoded MDP packet. Byte slices of bodies produced by Unpack
// alias the packet buffer.
type Message struct {
	Version uint8
	Sender  uint32
	Body    Body
}

// NewMessage returns a message of the current protocol version.
func NewMessage(sender uint32, body Body) *Message {
	return &Message{Version: Version, Sender: sender, Body: body}
}

// Type returns the message type, or 0 for an empty message.
func (m *Message) Type() MsgType {
	if m.Body == nil {
		return 0
	}
	return m.Body.Type()
}

// Priority returns the transmit priority of the message.
func (m *Message) Priority() int { return m.Type().Priority() }

// Len returns the packed size of the message.
func (m *Message) Len() int { return HeaderLen + m.Body.bodyLen() }

// Pack writes the message into b and returns the number of bytes written.
func (m *Message) Pack(b []byte) (int, error) {
	if m.Body == nil {
		return 0, ErrBadMessage
	}
	n := m.Len()
	if len(b) < n {
		return 0, ErrShortBuffer
	}
	b[0] = byte(m.Body.Type())
	b[1] = m.Version
	binary.BigEndian.PutUint32(b[2:], m.Sender)
	m.Body.pack(b[HeaderLen:n])
	return n, nil
}

// Marshal packs the message into a new buffer.
func (m *Message) Marshal() ([]byte, error) {
	if m.Body == nil {
		return nil, ErrBadMessage
	}
	b := make([]byte, m.Len())
	if _, err := m.Pack(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Message) String() string {
	if c, ok := m.Body.(Command); ok {
		return fmt.Sprintf("<%s:%s><sender:%08x>", m.Type(), c.Flavor(), m.Sender)
	}
	return fmt.Sprintf("<%s><sender:%08x>", m.Type(), m.Sender)
}

// Unpack decodes a packet. serverOriginated reports whether the message is
// one a server sends (INFO, DATA, PARITY, CMD, server REPORT) rather than a
// client (NACK, ACK, client REPORT).
func Unpack(b []byte) (msg *Message, serverOriginated bool, err error) {
	if len(b) < HeaderLen {
		return nil, false, ErrBadMessage
	}
	if b[1] != Version {
		return nil, false, ErrVersionMismatch
	}
	msg = &Message{Version: b[1], Sender: binary.BigEndian.Uint32(b[2:])}
	body := b[HeaderLen:]

	switch MsgType(b[0]) {
	case TypeReport:
		var r *Report
		if r, err = unpackReport(body); err == nil {
			msg.Body = r
			serverOriginated = r.Status&ReportClient == 0
		}
	case TypeInfo:
		msg.Body, err = unpackInfo(body)
		serverOriginated = true
	case TypeData:
		msg.Body, err = unpackData(body)
		serverOriginated = true
	case TypeParity:
		msg.Body, err = unpackParity(body)
		serverOriginated = true
	case TypeCmd:
		msg.Body, err = unpackCmd(body)
		serverOriginated = true
	case TypeNack:
		msg.Body, err = unpackNack(body)
	case TypeAck:
		msg.Body, err = unpackAck(body)
	default:
		return nil, false, ErrUnknownType
	}
	if err != nil {
		return nil, false, err
	}
	return msg, serverOriginated, nil
}

func tail(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func putIDs(b []byte, ids []uint32) {
	for i, id := range ids {
		binary.BigEndian.PutUint32(b[i*4:], id)
	}
}

func readIDs(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, ErrBadMessage
	}
	if len(b) == 0 {
		return nil, nil
	}
	ids := make([]uint32, len(b)/4)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return ids, nil
}

func putTimestamp(b []byte, ts Timestamp) {
	binary.BigEndian.PutUint32(b, ts.Sec)
	binary.BigEndian.PutUint32(b[4:], ts.Usec)
}

func readTimestamp(b []byte) Timestamp {
	return Timestamp{Sec: binary.BigEndian.Uint32(b), Usec: binary.BigEndian.Uint32(b[4:])}
}
