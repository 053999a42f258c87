package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/mdp/pkg/netio/netiotest"
	"github.com/skycoin/mdp/pkg/protocol"
)

func TestTxQueue_Order(t *testing.T) {
	q := newTxQueue()
	push := func(body protocol.Body, object uint32) {
		q.push(&outMsg{msg: protocol.Message{Body: body}, object: object})
	}
	push(&protocol.Report{}, 1)
	push(&protocol.Data{}, 2)
	push(&protocol.Nack{}, 3)
	push(&protocol.Data{}, 4)
	push(&protocol.Info{}, 5)
	push(&protocol.Ack{}, 6)
	push(&protocol.Parity{}, 7)

	var got []uint32
	for m := q.pop(); m != nil; m = q.pop() {
		got = append(got, m.object)
	}
	assert.Equal(t, []uint32{3, 6, 5, 7, 2, 4, 1}, got)
	assert.Zero(t, q.len())
}

func TestTxQueue_Remove(t *testing.T) {
	q := newTxQueue()
	for i := uint32(1); i <= 4; i++ {
		q.push(&outMsg{msg: protocol.Message{Body: &protocol.Data{}}, object: i})
	}
	out := q.remove(func(m *outMsg) bool { return m.object%2 == 0 })
	require.Len(t, out, 2)
	assert.Equal(t, 2, q.len())
	assert.Equal(t, uint32(1), q.pop().object)
	assert.Equal(t, uint32(3), q.pop().object)
}

func TestMsgPool_Exhaustion(t *testing.T) {
	p := newMsgPool(2, 16)
	a, b := p.get(), p.get()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Nil(t, p.get())
	assert.Equal(t, 1, p.overruns)
	p.put(a)
	assert.Equal(t, 1, p.inUse())
	assert.True(t, p.get() == a)
}

func TestRemoteServer_SequenceCheck(t *testing.T) {
	tn := newTestNet(t)
	cfg := testConfig()
	cl := tn.node(2, cfg)
	require.NoError(t, cl.OpenClient())
	n := cl.client.newRemoteServer(1, nodeAddr(1))

	assert.Equal(t, SeqNew, n.sequenceCheck(10))
	n.track(10)

	cases := []struct {
		id   uint32
		want SeqStatus
	}{
		{10, SeqPending},
		{9, SeqComplete},
		{11, SeqNew},
		{10 + uint32(cfg.RxWindow) - 1, SeqNew},
		{10 + uint32(cfg.RxWindow), SeqInvalid},
		{10 - uint32(cfg.RxWindow), SeqComplete},
		{10 - uint32(cfg.RxWindow) - 1, SeqInvalid},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, n.sequenceCheck(tc.id), "id %d", tc.id)
	}

	n.track(13)
	for id := uint32(11); id <= 13; id++ {
		assert.Equal(t, SeqPending, n.sequenceCheck(id))
	}
	n.sync(12)
	assert.Equal(t, SeqComplete, n.sequenceCheck(10))
	assert.Equal(t, SeqComplete, n.sequenceCheck(11))
	assert.Equal(t, SeqPending, n.sequenceCheck(12))

	n.hardSync(500)
	assert.Equal(t, SeqInvalid, n.sequenceCheck(13))
	assert.Equal(t, SeqComplete, n.sequenceCheck(499))
	assert.Equal(t, SeqNew, n.sequenceCheck(500))
	assert.Equal(t, uint64(1), n.stats.Resyncs)
}

func TestRemoteServer_SequenceCheckWraps(t *testing.T) {
	tn := newTestNet(t)
	cl := tn.node(2, testConfig())
	require.NoError(t, cl.OpenClient())
	n := cl.client.newRemoteServer(1, nodeAddr(1))

	n.track(0xFFFFFFFE)
	assert.Equal(t, SeqNew, n.sequenceCheck(1))
	n.track(1)
	for _, id := range []uint32{0xFFFFFFFF, 0, 1} {
		assert.Equal(t, SeqPending, n.sequenceCheck(id))
	}
	assert.Equal(t, SeqComplete, n.sequenceCheck(0xFFFFFFFD))
}

// firstPassServer runs a lone server until object 1 of size bytes has been
// sent once.
func firstPassServer(t *testing.T, size int) (*testNet, *Session, *txObject) {
	tn := newTestNet(t)
	cfg := testConfig()
	cfg.AutoParity = 0

	var ev recorder
	srv := tn.node(1, cfg, WithHandler(ev.handle))
	require.NoError(t, srv.OpenServer(1))
	_, err := srv.QueueTxData(nil, payload(size, 20))
	require.NoError(t, err)
	require.True(t, tn.clock.RunFor(time.Second, ev.has(TxFirstPass)))

	o := srv.server.find(1)
	require.NotNil(t, o)
	return tn, srv, o
}

func TestServer_RepeatedNackDoesNotIncreaseRepair(t *testing.T) {
	_, srv, o := firstPassServer(t, 10000)

	// segments 3 and 7 of block 0
	r := &protocol.RepairNack{Kind: protocol.RepairSegments, NErasure: 2, BlockID: 0, Mask: []byte{0x11, 0x00}}
	assert.True(t, srv.server.handleRepairNack(o, r))
	assert.False(t, srv.server.handleRepairNack(o, r))

	b := o.blocks.Find(0)
	require.NotNil(t, b)
	assert.Equal(t, 2, b.ParityCount())
	assert.True(t, o.repair.Test(0))

	// more erasures than fresh parity fall back to the data segments named
	r3 := &protocol.RepairNack{Kind: protocol.RepairSegments, NErasure: 3, BlockID: 0, Mask: []byte{0x31, 0x00}}
	assert.True(t, srv.server.handleRepairNack(o, r3))
	assert.True(t, b.Mask().Test(2))
	assert.True(t, b.Mask().Test(3))
	assert.True(t, b.Mask().Test(7))
	assert.False(t, srv.server.handleRepairNack(o, r3))
}

func TestServer_RepairOutsideFirstPassIgnored(t *testing.T) {
	_, srv, o := firstPassServer(t, 10000)
	r := &protocol.RepairNack{Kind: protocol.RepairSegments, NErasure: 1, BlockID: 1, Mask: []byte{0x80, 0x00}}
	assert.False(t, srv.server.handleRepairNack(o, r))
	assert.False(t, srv.server.handleRepairNack(o, &protocol.RepairNack{Kind: protocol.RepairInfo}))
}

func TestServer_NackForUnknownObjectSquelches(t *testing.T) {
	_, srv, _ := firstPassServer(t, 3000)

	buf := make([]byte, 256)
	w := protocol.NewNackWriter(buf)
	require.True(t, w.OpenObject(99))
	require.True(t, w.AppendRepair(protocol.RepairNack{Kind: protocol.RepairObject}))
	w.CloseObject()

	srv.server.onNack(2, w.Bytes())
	assert.Equal(t, uint64(1), srv.server.stats.Squelches)

	m := srv.queue.peek()
	require.NotNil(t, m)
	sq, ok := m.msg.Body.(*protocol.Squelch)
	require.True(t, ok)
	assert.Equal(t, []uint32{99}, sq.IDs)
	assert.Equal(t, uint32(1), sq.SyncID)
}

// partialClient transfers objects to an emcon client while segment 3000 of
// every object is lost, so block 0 of each stays buffered.
func partialClient(t *testing.T, objects int) (*Session, *remoteServer) {
	tn := newTestNet(t)
	cfg := testConfig()
	emcon := cfg
	emcon.Emcon = true

	srv := tn.node(1, cfg)
	cl := tn.node(2, emcon)
	require.NoError(t, srv.OpenServer(1))
	require.NoError(t, cl.OpenClient())
	tn.hub.Drop = func(p netiotest.Packet, _ netiotest.Addr) bool {
		msg, _, err := protocol.Unpack(p.Data)
		if err != nil {
			return false
		}
		d, ok := msg.Body.(*protocol.Data)
		return ok && d.Offset == 3000
	}
	for i := 0; i < objects; i++ {
		_, err := srv.QueueTxData(nil, payload(10000, int64(30+i)))
		require.NoError(t, err)
	}
	tn.clock.Advance(500 * time.Millisecond)

	n := cl.client.nodes[1]
	require.NotNil(t, n)
	require.Equal(t, objects, n.objects.len())
	return cl, n
}

func TestRemoteServer_ReclaimNothingStealable(t *testing.T) {
	_, n := partialClient(t, 1)
	o := n.object(1)
	require.NotNil(t, o)
	require.Equal(t, 1, o.blocks.Len())

	vectors, blocks, received := n.vectors.Free(), n.blocks.Free(), o.received
	assert.False(t, n.reclaim(o, 0))
	assert.Equal(t, vectors, n.vectors.Free())
	assert.Equal(t, blocks, n.blocks.Free())
	assert.Equal(t, received, o.received)
	assert.Zero(t, n.stats.Reclaims)
}

func TestRemoteServer_ReclaimFromOtherObject(t *testing.T) {
	_, n := partialClient(t, 2)
	o1, o2 := n.object(1), n.object(2)
	require.NotNil(t, o1)
	require.NotNil(t, o2)
	require.Equal(t, int64(9000), o1.received)

	vectors, blocks := n.vectors.Free(), n.blocks.Free()
	require.True(t, n.reclaim(o2, 0))
	assert.Equal(t, vectors+9, n.vectors.Free())
	assert.Equal(t, blocks+1, n.blocks.Free())
	assert.Zero(t, o1.blocks.Len())
	assert.Equal(t, 1, o2.blocks.Len())
	assert.Zero(t, o1.received)
	assert.True(t, o1.pending.Test(0))
	assert.Equal(t, uint64(1), n.stats.Reclaims)
}
