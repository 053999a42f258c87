package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSocket_Unicast(t *testing.T) {
	recv := make(chan []byte, 1)
	direct := func(fn func()) { fn() }

	rx, err := ListenUDP(UDPConfig{Addr: "127.0.0.1:0"}, direct, func(b []byte, from net.Addr) { recv <- b })
	require.NoError(t, err)
	defer func() { require.NoError(t, rx.Close()) }()

	tx, err := ListenUDP(UDPConfig{Addr: "127.0.0.1:0"}, direct, func([]byte, net.Addr) {})
	require.NoError(t, err)

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: rx.LocalAddr().(*net.UDPAddr).Port}
	require.NoError(t, tx.Send([]byte("segment"), dst))

	select {
	case b := <-recv:
		assert.Equal(t, []byte("segment"), b)
	case <-time.After(5 * time.Second):
		t.Fatal("no datagram received")
	}

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	assert.Equal(t, ErrClosed, tx.Send([]byte("late"), dst))
}

func TestListenUDP_NoAddr(t *testing.T) {
	_, err := ListenUDP(UDPConfig{}, nil, nil)
	assert.Equal(t, ErrNoGroup, err)
}
