package protocol

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	if n == 0 {
		return nil
	}
	return bytes.Repeat([]byte{0xa7}, n)
}

func objHeader(flags Flags) ObjectHeader {
	return ObjectHeader{
		Sequence:   0xfffe,
		ObjectID:   0xfffffff0,
		ObjectSize: 10000,
		NData:      10,
		NParity:    2,
		Flags:      flags,
		GRTT:       QuantizeRtt(0.5),
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	const maxPayload = 1400

	var bodies []Body
	for _, n := range []int{0, 1, maxPayload} {
		bodies = append(bodies,
			&Info{ObjectHeader: objHeader(FlagInfoAvailable), SegmentSize: 1000, Payload: payload(n)},
			&Data{ObjectHeader: objHeader(FlagBlockEnd), Offset: 9000, SegmentSize: uint16(n), Payload: payload(n)},
			&Data{ObjectHeader: objHeader(FlagRunt | FlagFile), Offset: 9000, SegmentSize: maxPayload + 1, Payload: payload(n)},
			&Parity{ObjectHeader: objHeader(FlagRepair), Offset: 0, ParityID: 1, Payload: payload(n)},
			&NackAdv{GRTT: 3, Content: payload(n)},
			&Nack{Feedback: Feedback{ServerID: 7, GrttResponse: Timestamp{Sec: 1, Usec: 999999}, Loss: 12, GrttReqSeq: 4}, Content: payload(n)},
		)
	}
	bodies = append(bodies,
		&Flush{GRTT: 9, Flags: FlushEOT, ObjectID: 42},
		&Squelch{GRTT: 9, SyncID: 40},
		&Squelch{GRTT: 9, SyncID: 40, IDs: []uint32{41, 43}},
		&AckReq{GRTT: 1, ObjectID: 5, Nodes: []uint32{1, 2, 3}},
		&GrttReq{
			GRTT: 200, Flags: GrttReqCongestion, Seq: 17,
			SendTime: Timestamp{Sec: 100, Usec: 5}, HoldTime: Timestamp{Usec: 250000},
			SegmentSize: 1024, Rate: 125000, RTT: 150, Loss: 300, Nodes: []uint32{9},
		},
		&Ack{Feedback: Feedback{ServerID: 7, Loss: 1}, AckType: AckObject, ObjectID: 77},
		&Ack{Feedback: Feedback{ServerID: 7}, AckType: AckGrtt},
		&Report{Status: 0, Name: "server"},
		&Report{Status: ReportClient, Name: "client-1", Stats: &ClientStats{Duration: 60, Success: 3, BlockLoss: [7]uint32{1, 2, 3, 4, 5, 6, 7}, RxRate: 99}},
	)

	for _, body := range bodies {
		m := NewMessage(0x01020304, body)
		b, err := m.Marshal()
		require.NoError(t, err)
		require.Equal(t, m.Len(), len(b))

		got, server, err := Unpack(b)
		require.NoError(t, err, "%s", m)
		assert.Equal(t, m, got, "%s", m)

		switch body.Type() {
		case TypeNack, TypeAck:
			assert.False(t, server)
		case TypeReport:
			assert.Equal(t, body.(*Report).Status&ReportClient == 0, server)
		default:
			assert.True(t, server)
		}
	}
}

func TestMessage_Pack(t *testing.T) {
	m := NewMessage(2, &Flush{GRTT: 1, ObjectID: 3})
	b := make([]byte, 8)
	_, err := m.Pack(b)
	assert.Equal(t, ErrShortBuffer, err)

	b = make([]byte, 64)
	n, err := m.Pack(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 2, 0, 0, 0, 2, 1, 1, 0, 0, 0, 0, 3}, b[:n])

	_, err = (&Message{}).Marshal()
	assert.Equal(t, ErrBadMessage, err)
}

func TestUnpack_Errors(t *testing.T) {
	good, err := NewMessage(1, &Data{ObjectHeader: objHeader(0), Payload: payload(10)}).Marshal()
	require.NoError(t, err)

	cases := []struct {
		name string
		b    []byte
		err  error
	}{
		{"short header", good[:5], ErrBadMessage},
		{"truncated object header", good[:ObjectHeaderLen-1], ErrBadMessage},
		{"version", append([]byte{3, 1}, good[2:]...), ErrVersionMismatch},
		{"type", append([]byte{9}, good[1:]...), ErrUnknownType},
		{"flavor", []byte{5, 2, 0, 0, 0, 1, 0, 9}, ErrUnknownType},
		{"squelch ids", []byte{5, 2, 0, 0, 0, 1, 0, 2, 0, 0, 0, 1, 0, 0}, ErrBadMessage},
		{"ack type", append(append([]byte{7, 2, 0, 0, 0, 1}, make([]byte, feedbackLen)...), 9, 0, 0, 0, 0), ErrBadMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Unpack(tc.b)
			assert.Equal(t, tc.err, err)
		})
	}

	parity, err := NewMessage(1, &Parity{ObjectHeader: objHeader(0), ParityID: 1}).Marshal()
	require.NoError(t, err)
	parity[ObjectHeaderLen+4] = 2
	_, _, err = Unpack(parity)
	assert.Equal(t, ErrBadMessage, err)
}

func TestBefore(t *testing.T) {
	for _, a := range []uint32{0, 1, 0x7fffffff, 0x80000000, 0xfffffffe, 0xffffffff} {
		assert.True(t, Before(a, a+1), "a=%x", a)
		assert.False(t, Before(a+1, a))
		assert.True(t, After(a+1, a))
		assert.False(t, Before(a, a))
		assert.Equal(t, int32(-1), Delta(a, a+1))
	}
	assert.True(t, SeqBefore(0xffff, 0))
	assert.Equal(t, int16(2), SeqDelta(1, 0xffff))
	assert.Equal(t, -1, CompareIDs(0xffffffff, 0))
	assert.Equal(t, 1, CompareIDs(0, 0xffffffff))
	assert.Equal(t, 0, CompareIDs(5, 5))
}

func TestQuantizeRtt(t *testing.T) {
	assert.Equal(t, uint8(0), QuantizeRtt(0))
	assert.Equal(t, uint8(255), QuantizeRtt(5000))
	assert.InDelta(t, RttMax, UnquantizeRtt(255), 1e-9)

	for x := RttMin; x <= RttMax; x *= 1.037 {
		got := UnquantizeRtt(QuantizeRtt(x))
		if x < rttLinearMax {
			assert.InDelta(t, x, got, 2*RttMin, "x=%g", x)
		} else {
			ratio := got / x
			assert.True(t, ratio >= 1/math.Exp(1.0/13)-1e-9 && ratio <= math.Exp(1.0/13)+1e-9, "x=%g got=%g", x, got)
		}
	}
}

func TestQuantizeLoss(t *testing.T) {
	assert.Equal(t, uint16(0), QuantizeLoss(-1))
	assert.Equal(t, uint16(math.MaxUint16), QuantizeLoss(2))
	for _, p := range []float64{0.001, 0.01, 0.25, 0.5, 0.99} {
		assert.InDelta(t, p, UnquantizeLoss(QuantizeLoss(p)), 1.0/math.MaxUint16)
	}
}

func TestTimestamp(t *testing.T) {
	now := time.Unix(1567000000, 123456000)
	ts := TimestampFrom(now)
	assert.Equal(t, Timestamp{Sec: 1567000000, Usec: 123456}, ts)
	assert.True(t, ts.Time().Equal(now))
	assert.Equal(t, Timestamp{Sec: 1567000001, Usec: 123455}, ts.Add(999999*time.Microsecond))
	assert.True(t, Timestamp{}.IsZero())
}

func TestString(t *testing.T) {
	assert.Equal(t, "PARITY", TypeParity.String())
	assert.Equal(t, "UNKNOWN:0", MsgType(0).String())
	assert.Equal(t, "NACK_ADV", CmdNackAdv.String())
	assert.Equal(t, "REPAIR|RUNT", (FlagRepair | FlagRunt).String())
	assert.Equal(t, "<CMD:FLUSH><sender:00000001>", NewMessage(1, &Flush{}).String())
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 0, TypeReport.Priority())
	assert.Equal(t, 6, TypeData.Priority())
	assert.Equal(t, 8, TypeParity.Priority())
	assert.Equal(t, 10, TypeInfo.Priority())
	for _, typ := range []MsgType{TypeCmd, TypeNack, TypeAck} {
		assert.Equal(t, 12, typ.Priority())
	}
}
