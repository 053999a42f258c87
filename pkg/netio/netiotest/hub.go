// Package netiotest provides an in-memory lossy network for session tests.
package netiotest

import (
	"net"
	"time"

	"github.com/skycoin/mdp/pkg/netio"
	"github.com/skycoin/mdp/pkg/timer"
)

// Addr is an in-memory address.
type Addr string

// Network implements net.Addr.
func (Addr) Network() string { return "mem" }

func (a Addr) String() string { return string(a) }

// Group is the address every endpoint of a Hub receives.
const Group = Addr("group")

// Packet is one datagram in flight.
type Packet struct {
	From net.Addr
	To   net.Addr
	Data []byte
}

// Hub connects endpoints. Deliveries are scheduled on the hub's scheduler
// after Latency, so no handler runs inside Send.
type Hub struct {
	Latency time.Duration
	// Drop decides per receiver whether a packet is lost.
	Drop func(p Packet, to Addr) bool

	sched     timer.Scheduler
	endpoints map[Addr]*Endpoint
	order     []Addr

	Sent      int
	Delivered int
	Dropped   int
}

// NewHub returns an empty hub driven by s.
func NewHub(s timer.Scheduler) *Hub {
	return &Hub{sched: s, endpoints: make(map[Addr]*Endpoint)}
}

// Endpoint attaches a new endpoint named addr delivering to h.
func (hub *Hub) Endpoint(addr Addr, h netio.Handler) *Endpoint {
	e := &Endpoint{hub: hub, addr: addr, h: h}
	hub.endpoints[addr] = e
	hub.order = append(hub.order, addr)
	return e
}

func (hub *Hub) send(from *Endpoint, b []byte, dst net.Addr) error {
	hub.Sent++
	to := Addr(dst.String())
	if to == Group {
		for _, a := range hub.order {
			if e := hub.endpoints[a]; e != nil && e != from {
				hub.deliver(from, e, b, dst)
			}
		}
		return nil
	}
	if e := hub.endpoints[to]; e != nil {
		hub.deliver(from, e, b, dst)
	}
	return nil
}

func (hub *Hub) deliver(from, to *Endpoint, b []byte, dst net.Addr) {
	p := Packet{From: from.addr, To: dst, Data: b}
	if hub.Drop != nil && hub.Drop(p, to.addr) {
		hub.Dropped++
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	hub.sched.After(hub.Latency, false, func() {
		if to.closed {
			return
		}
		hub.Delivered++
		to.h(cp, from.addr)
	})
}

// Endpoint is a netio.Socket attached to a Hub.
type Endpoint struct {
	hub    *Hub
	addr   Addr
	h      netio.Handler
	closed bool
}

// Send implements netio.Socket.
func (e *Endpoint) Send(b []byte, dst net.Addr) error {
	if e.closed {
		return netio.ErrClosed
	}
	return e.hub.send(e, b, dst)
}

// LocalAddr implements netio.Socket.
func (e *Endpoint) LocalAddr() net.Addr { return e.addr }

// Close implements netio.Socket.
func (e *Endpoint) Close() error {
	e.closed = true
	delete(e.hub.endpoints, e.addr)
	return nil
}
