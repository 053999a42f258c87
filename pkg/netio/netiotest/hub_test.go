package netiotest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/mdp/pkg/netio"
	"github.com/skycoin/mdp/pkg/timer"
)

func TestHub(t *testing.T) {
	clock := timer.NewManual(time.Unix(0, 0))
	hub := NewHub(clock)
	hub.Latency = 10 * time.Millisecond

	got := make(map[Addr][]string)
	handler := func(name Addr) netio.Handler {
		return func(b []byte, from net.Addr) {
			got[name] = append(got[name], from.String()+":"+string(b))
		}
	}
	a := hub.Endpoint("a", handler("a"))
	b := hub.Endpoint("b", handler("b"))
	c := hub.Endpoint("c", handler("c"))
	hub.Drop = func(p Packet, to Addr) bool { return to == "c" && string(p.Data) == "lost" }

	buf := []byte("hello")
	require.NoError(t, a.Send(buf, Group))
	buf[0] = 'j'
	require.NoError(t, b.Send([]byte("direct"), Addr("a")))
	require.NoError(t, a.Send([]byte("lost"), Group))
	assert.Empty(t, got)

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"b:direct"}, got["a"])
	assert.Equal(t, []string{"a:hello", "a:lost"}, got["b"])
	assert.Equal(t, []string{"a:hello"}, got["c"])
	assert.Equal(t, 1, hub.Dropped)
	assert.Equal(t, 3, hub.Sent)

	require.NoError(t, c.Close())
	assert.Equal(t, netio.ErrClosed, c.Send([]byte("x"), Group))
	require.NoError(t, a.Send([]byte("again"), Group))
	clock.Advance(10 * time.Millisecond)
	assert.Len(t, got["c"], 1)
	assert.Len(t, got["b"], 3)
}
