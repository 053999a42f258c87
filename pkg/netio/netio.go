// Package netio is the network boundary of a session: a packet socket that
// sends to unicast or group addresses and hands received packets to a handler.
package netio

import (
	"errors"
	"net"
)

// MaxPacket is the largest datagram a socket reads.
const MaxPacket = 65507

var (
	// ErrClosed occurs when sending on a closed socket.
	ErrClosed = errors.New("netio: socket closed")

	// ErrNoGroup occurs when a socket is configured without a destination address.
	ErrNoGroup = errors.New("netio: no group address")
)

// Socket sends datagrams. Received datagrams are delivered to the Handler
// the socket was opened with.
type Socket interface {
	Send(b []byte, dst net.Addr) error
	LocalAddr() net.Addr
	Close() error
}

// Handler receives one datagram. b is owned by the handler.
type Handler func(b []byte, from net.Addr)

// Poster runs fn on the goroutine that owns the session, see timer.Loop.Post.
type Poster func(fn func())
