package archive

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/mdp/pkg/netio/netiotest"
	"github.com/skycoin/mdp/pkg/session"
	"github.com/skycoin/mdp/pkg/store"
	"github.com/skycoin/mdp/pkg/timer"
)

func TestDigest(t *testing.T) {
	data := []byte("multicast dissemination")
	want := xxhash.Sum64(data)

	d, err := Digest(store.MemoryFrom(data))
	require.NoError(t, err)
	assert.Equal(t, want, d)

	dir, err := ioutil.TempDir("", "mdp-digest")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	path := filepath.Join(dir, "obj")
	require.NoError(t, ioutil.WriteFile(path, data, 0600))

	f, err := store.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	d, err = Digest(f)
	require.NoError(t, err)
	assert.Equal(t, want, d)

	// any other ObjectData is read segment by segment
	d, err = Digest(struct{ store.ObjectData }{store.MemoryFrom(data)})
	require.NoError(t, err)
	assert.Equal(t, want, d)
}

func TestJournal(t *testing.T) {
	clock := timer.NewManual(time.Unix(1500000000, 0))
	hub := netiotest.NewHub(clock)
	hub.Latency = 5 * time.Millisecond

	cfg := session.DefaultConfig()
	cfg.SegmentSize = 1000
	cfg.NData = 10
	cfg.NParity = 2
	cfg.TxRate = 1e6
	cfg.GrttInitial = 0.01
	cfg.RobustFactor = 3
	cfg.TxHoldCount = 1

	node := func(id uint32, h session.Handler) *session.Session {
		var s *session.Session
		ep := hub.Endpoint(netiotest.Addr(fmt.Sprintf("node-%d", id)), func(b []byte, from net.Addr) { s.HandlePacket(b, from) })
		s, err := session.New(id, cfg, clock, ep, netiotest.Group, session.WithHandler(h))
		require.NoError(t, err)
		return s
	}

	txLog, rxLog := InMemoryLog(), InMemoryLog()
	txj, rxj := NewJournal(txLog, 1), NewJournal(rxLog, 2)
	srv := node(1, txj.Handle)
	cl := node(2, rxj.Handle)
	require.NoError(t, srv.OpenServer(1))
	require.NoError(t, cl.OpenClient())

	first, second := make([]byte, 4200), make([]byte, 1300)
	for i := range first {
		first[i] = byte(i)
	}
	_, err := srv.QueueTxData([]byte("first"), first)
	require.NoError(t, err)
	_, err = srv.QueueTxData(nil, second)
	require.NoError(t, err)

	// the second object pushes the first out of the hold queue
	require.True(t, clock.RunFor(10*time.Second, func() bool {
		return rxLog.Count() == 2 && txLog.Count() >= 1
	}))

	var rx []*Record
	require.NoError(t, rxLog.Range(func(r *Record) bool {
		rx = append(rx, r)
		return true
	}))
	assert.Equal(t, Received, rx[0].Direction)
	assert.Equal(t, uint32(1), rx[0].Node)
	assert.Equal(t, "first", rx[0].Info)
	assert.Equal(t, Completed, rx[0].Result)
	assert.Equal(t, xxhash.Sum64(first), rx[0].Digest)
	assert.True(t, rx[0].Duration() > 0)
	assert.Equal(t, xxhash.Sum64(second), rx[1].Digest)

	var tx *Record
	require.NoError(t, txLog.Range(func(r *Record) bool {
		tx = r
		return false
	}))
	assert.Equal(t, Sent, tx.Direction)
	assert.Equal(t, uint32(1), tx.Node)
	assert.Equal(t, uint32(1), tx.ObjectID)
	assert.Equal(t, Finished, tx.Result)
}
