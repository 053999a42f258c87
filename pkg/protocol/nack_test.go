package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(content []byte) map[uint32][]RepairNack {
	out := make(map[uint32][]RepairNack)
	r := NewNackReader(content)
	for {
		o, ok := r.Next()
		if !ok {
			return out
		}
		o.Range(func(rep *RepairNack) bool {
			cp := *rep
			cp.Mask = append([]byte(nil), rep.Mask...)
			if len(cp.Mask) == 0 {
				cp.Mask = nil
			}
			out[o.ObjectID] = append(out[o.ObjectID], cp)
			return true
		})
	}
}

func TestNackWriter(t *testing.T) {
	w := NewNackWriter(make([]byte, 64))

	require.True(t, w.OpenObject(10))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairSegments, NErasure: 2, BlockID: 0, Mask: []byte{0x11, 0x00}}))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairBlocks, BlockID: 3, Mask: []byte{0xf0}}))
	w.CloseObject()

	require.True(t, w.OpenObject(11))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairObject}))
	w.CloseObject()

	// empty objects leave no trace
	require.True(t, w.OpenObject(12))
	w.CloseObject()

	got := collect(w.Bytes())
	assert.Equal(t, map[uint32][]RepairNack{
		10: {
			{Kind: RepairSegments, NErasure: 2, BlockID: 0, Mask: []byte{0x11, 0x00}},
			{Kind: RepairBlocks, BlockID: 3, Mask: []byte{0xf0}},
		},
		11: {{Kind: RepairObject}},
	}, got)
	assert.Equal(t, 6+10+8+6+1, w.Len())
}

func TestNackWriter_Capacity(t *testing.T) {
	w := NewNackWriter(make([]byte, 16))
	require.True(t, w.OpenObject(1))
	assert.False(t, w.AppendRepair(RepairNack{Kind: RepairSegments, Mask: make([]byte, 3)}))
	assert.True(t, w.AppendRepair(RepairNack{Kind: RepairSegments, Mask: make([]byte, 2)}))
	assert.Equal(t, 0, w.Remaining())
	assert.False(t, w.AppendRepair(RepairNack{Kind: RepairInfo}))
	assert.Empty(t, w.Bytes())
	w.CloseObject()
	assert.Len(t, w.Bytes(), 16)
	assert.False(t, w.OpenObject(2))

	w.Reset(make([]byte, 6))
	assert.False(t, w.OpenObject(1))
	assert.False(t, w.AppendRepair(RepairNack{Kind: RepairInfo}))
}

func TestNackReader_Truncated(t *testing.T) {
	w := NewNackWriter(make([]byte, 64))
	require.True(t, w.OpenObject(1))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairInfo}))
	w.CloseObject()
	require.True(t, w.OpenObject(2))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairBlocks, BlockID: 9, Mask: []byte{0x80, 0x01}}))
	w.CloseObject()
	content := w.Bytes()

	got := collect(content[:len(content)-1])
	assert.Equal(t, map[uint32][]RepairNack{1: {{Kind: RepairInfo}}}, got)

	// a repair whose mask overruns its object is dropped with the rest of the object
	o := ObjectNack{ObjectID: 3, Repairs: []byte{byte(RepairInfo), byte(RepairBlocks), 0, 0, 0, 1, 0, 4, 0xff}}
	var kinds []RepairKind
	o.Range(func(r *RepairNack) bool {
		kinds = append(kinds, r.Kind)
		return true
	})
	assert.Equal(t, []RepairKind{RepairInfo}, kinds)
}

func TestNackAdv_Content(t *testing.T) {
	w := NewNackWriter(make([]byte, 32))
	require.True(t, w.OpenObject(5))
	require.True(t, w.AppendRepair(RepairNack{Kind: RepairInfo}))
	w.CloseObject()

	nack := &Nack{Feedback: Feedback{ServerID: 1}, Content: w.Bytes()}
	b, err := NewMessage(2, nack).Marshal()
	require.NoError(t, err)
	m, _, err := Unpack(b)
	require.NoError(t, err)

	adv := &NackAdv{GRTT: 10, Content: m.Body.(*Nack).Content}
	b, err = NewMessage(1, adv).Marshal()
	require.NoError(t, err)
	m, server, err := Unpack(b)
	require.NoError(t, err)
	assert.True(t, server)
	assert.Equal(t, map[uint32][]RepairNack{5: {{Kind: RepairInfo}}}, collect(m.Body.(*NackAdv).Content))
}
