package protocol

import (
	"bytes"
	"encoding/binary"
)

// AckType selects what an ACK acknowledges.
type AckType uint8

// Ack types.
const (
	AckObject = AckType(1)
	AckGrtt   = AckType(2)
)

// ReportClient is set in the status of reports sent by clients.
const ReportClient = 0x01

// Feedback is the part shared by NACK and ACK: the addressed server, the
// echoed GRTT probe and the sender's loss estimate.
type Feedback struct {
	ServerID     uint32
	GrttResponse Timestamp
	Loss         uint16
	GrttReqSeq   uint8
}

const feedbackLen = 4 + 8 + 2 + 1

func (f *Feedback) pack(b []byte) {
	binary.BigEndian.PutUint32(b, f.ServerID)
	putTimestamp(b[4:], f.GrttResponse)
	binary.BigEndian.PutUint16(b[12:], f.Loss)
	b[14] = f.GrttReqSeq
}

func (f *Feedback) unpack(b []byte) {
	f.ServerID = binary.BigEndian.Uint32(b)
	f.GrttResponse = readTimestamp(b[4:])
	f.Loss = binary.BigEndian.Uint16(b[12:])
	f.GrttReqSeq = b[14]
}

// Nack requests repairs. Content is a sequence of ObjectNack records, see NackWriter.
type Nack struct {
	Feedback
	Content []byte
}

// Type implements Body.
func (*Nack) Type() MsgType { return TypeNack }

func (m *Nack) bodyLen() int { return feedbackLen + len(m.Content) }

func (m *Nack) pack(b []byte) {
	m.Feedback.pack(b)
	copy(b[feedbackLen:], m.Content)
}

func unpackNack(b []byte) (*Nack, error) {
	if len(b) < feedbackLen {
		return nil, ErrBadMessage
	}
	m := new(Nack)
	m.Feedback.unpack(b)
	m.Content = tail(b[feedbackLen:])
	return m, nil
}

// Ack is a positive acknowledgment of an object or a GRTT probe.
type Ack struct {
	Feedback
	AckType  AckType
	ObjectID uint32
}

// Type implements Body.
func (*Ack) Type() MsgType { return TypeAck }

func (m *Ack) bodyLen() int { return feedbackLen + 5 }

func (m *Ack) pack(b []byte) {
	m.Feedback.pack(b)
	b[feedbackLen] = byte(m.AckType)
	binary.BigEndian.PutUint32(b[feedbackLen+1:], m.ObjectID)
}

func unpackAck(b []byte) (*Ack, error) {
	if len(b) != feedbackLen+5 {
		return nil, ErrBadMessage
	}
	m := new(Ack)
	m.Feedback.unpack(b)
	m.AckType = AckType(b[feedbackLen])
	if m.AckType != AckObject && m.AckType != AckGrtt {
		return nil, ErrBadMessage
	}
	m.ObjectID = binary.BigEndian.Uint32(b[feedbackLen+1:])
	return m, nil
}

// ClientStats is the statistics block of a client REPORT.
type ClientStats struct {
	Duration        uint32 // seconds since the client started
	Success         uint32
	Active          uint32
	Fail            uint32
	Resync          uint32
	BlockLoss       [7]uint32
	TxRate          uint32
	NackCount       uint32
	SuppressedCount uint32
	BufferTotal     uint32
	BufferPeak      uint32
	BufferOverflow  uint32
	Goodput         uint32
	RxRate          uint32
}

func (s *ClientStats) fields() []*uint32 {
	f := []*uint32{&s.Duration, &s.Success, &s.Active, &s.Fail, &s.Resync}
	for i := range s.BlockLoss {
		f = append(f, &s.BlockLoss[i])
	}
	return append(f, &s.TxRate, &s.NackCount, &s.SuppressedCount,
		&s.BufferTotal, &s.BufferPeak, &s.BufferOverflow, &s.Goodput, &s.RxRate)
}

// Report is a periodic status message. Stats is present for clients only.
type Report struct {
	Status uint8
	Name   string
	Stats  *ClientStats
}

// Type implements Body.
func (*Report) Type() MsgType { return TypeReport }

func (m *Report) bodyLen() int {
	n := 1 + reportNameLen
	if m.Status&ReportClient != 0 {
		n += clientStatsLen
	}
	return n
}

func (m *Report) pack(b []byte) {
	b[0] = m.Status
	name := b[1 : 1+reportNameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name, m.Name)
	if m.Status&ReportClient == 0 {
		return
	}
	stats := m.Stats
	if stats == nil {
		stats = new(ClientStats)
	}
	b = b[1+reportNameLen:]
	for i, f := range stats.fields() {
		binary.BigEndian.PutUint32(b[i*4:], *f)
	}
}

func unpackReport(b []byte) (*Report, error) {
	if len(b) < 1+reportNameLen {
		return nil, ErrBadMessage
	}
	m := &Report{Status: b[0]}
	name := b[1 : 1+reportNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	m.Name = string(name)
	if m.Status&ReportClient == 0 {
		return m, nil
	}
	b = b[1+reportNameLen:]
	if len(b) < clientStatsLen {
		return nil, ErrBadMessage
	}
	m.Stats = new(ClientStats)
	for i, f := range m.Stats.fields() {
		*f = binary.BigEndian.Uint32(b[i*4:])
	}
	return m, nil
}
