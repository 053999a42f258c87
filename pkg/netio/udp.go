package netio

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"golang.org/x/net/ipv4"
)

var log = logging.MustGetLogger("netio")

// UDPConfig configures a UDP socket.
type UDPConfig struct {
	// Addr is the group (or unicast) address and port sessions send to.
	Addr string
	// Port to bind. Zero binds the port of Addr.
	Port int
	// Interface names the multicast interface. Empty uses the system default.
	Interface  string
	TTL        int
	TOS        int
	Loopback   bool
	ReadBuffer int
}

// UDPSocket is a Socket over UDP that joins Addr when it is a multicast group.
type UDPSocket struct {
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// ListenUDP opens the socket and starts delivering received datagrams to h
// through post.
func ListenUDP(cfg UDPConfig, post Poster, h Handler) (*UDPSocket, error) {
	if cfg.Addr == "" {
		return nil, ErrNoGroup
	}
	group, err := net.ResolveUDPAddr("udp4", cfg.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", cfg.Addr)
	}
	port := cfg.Port
	if port == 0 {
		port = group.Port
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	s := &UDPSocket{conn: conn, pc: ipv4.NewPacketConn(conn), group: group, done: make(chan struct{})}
	if err := s.setup(cfg); err != nil {
		conn.Close() // nolint: errcheck
		return nil, err
	}
	go s.readLoop(post, h)
	return s, nil
}

func (s *UDPSocket) setup(cfg UDPConfig) error {
	if cfg.ReadBuffer > 0 {
		if err := s.conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
			log.WithError(err).Warn("Failed to set read buffer.")
		}
	}
	if cfg.TOS > 0 {
		if err := s.pc.SetTOS(cfg.TOS); err != nil {
			return errors.Wrap(err, "set tos")
		}
	}
	if !s.group.IP.IsMulticast() {
		return nil
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return errors.Wrapf(err, "interface %s", cfg.Interface)
		}
		if err := s.pc.SetMulticastInterface(ifi); err != nil {
			return errors.Wrap(err, "set multicast interface")
		}
	}
	if err := s.pc.JoinGroup(ifi, &net.UDPAddr{IP: s.group.IP}); err != nil {
		return errors.Wrapf(err, "join %s", s.group.IP)
	}
	if cfg.TTL > 0 {
		if err := s.pc.SetMulticastTTL(cfg.TTL); err != nil {
			return errors.Wrap(err, "set multicast ttl")
		}
	}
	if err := s.pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		return errors.Wrap(err, "set multicast loopback")
	}
	log.Infof("Joined group %s (ttl=%d, loopback=%v).", s.group, cfg.TTL, cfg.Loopback)
	return nil
}

func (s *UDPSocket) readLoop(post Poster, h Handler) {
	defer close(s.done)
	buf := make([]byte, MaxPacket)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.WithError(err).Warn("Read failed, socket stops receiving.")
			}
			return
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		post(func() { h(b, from) })
	}
}

// Group returns the address sessions send to.
func (s *UDPSocket) Group() net.Addr { return s.group }

// Send implements Socket.
func (s *UDPSocket) Send(b []byte, dst net.Addr) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	ua, ok := dst.(*net.UDPAddr)
	if !ok {
		var err error
		if ua, err = net.ResolveUDPAddr("udp4", dst.String()); err != nil {
			return errors.Wrapf(err, "resolve %s", dst)
		}
	}
	_, err := s.conn.WriteToUDP(b, ua)
	return err
}

// LocalAddr implements Socket.
func (s *UDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close implements Socket. It waits for the reader goroutine to exit.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.group.IP.IsMulticast() {
		s.pc.LeaveGroup(nil, &net.UDPAddr{IP: s.group.IP}) // nolint: errcheck
	}
	err := s.conn.Close()
	<-s.done
	return err
}
