// Package session is the MDP protocol engine. A Session may act as a server,
// sending objects to the group, and as a client, receiving the objects of
// every server it hears.
//
// A Session is not safe for concurrent use. Every method, and the handling
// of received packets, must run on the goroutine of its scheduler (see
// timer.Loop.Do and timer.Loop.Post).
package session

import (
	"math/rand"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/mdp/internal/metrics"
	"github.com/skycoin/mdp/pkg/cc"
	"github.com/skycoin/mdp/pkg/netio"
	"github.com/skycoin/mdp/pkg/protocol"
	"github.com/skycoin/mdp/pkg/store"
	"github.com/skycoin/mdp/pkg/timer"
)

var log = logging.MustGetLogger("session")

var (
	// ErrClosed occurs on use of a closed session.
	ErrClosed = errors.New("session closed")

	// ErrServerClosed occurs when queueing objects without an open server.
	ErrServerClosed = errors.New("server not open")

	// ErrServerOpen occurs when opening a server twice.
	ErrServerOpen = errors.New("server already open")

	// ErrClientOpen occurs when opening a client twice.
	ErrClientOpen = errors.New("client already open")

	// ErrUnknownObject occurs when aborting an object the session does not hold.
	ErrUnknownObject = errors.New("unknown object")

	// ErrMessagePool occurs when no outgoing message buffer is available.
	ErrMessagePool = errors.New("message pool exhausted")
)

// Option configures a Session.
type Option func(s *Session)

// WithHandler sets the notification handler.
func WithHandler(h Handler) Option { return func(s *Session) { s.handler = h } }

// WithFactory sets the factory receive sinks are opened with. The default
// keeps every object in memory.
func WithFactory(f store.Factory) Option { return func(s *Session) { s.factory = f } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option { return func(s *Session) { s.metrics = m } }

// WithRand sets the random source used for backoffs.
func WithRand(r *rand.Rand) Option { return func(s *Session) { s.rand = r } }

// Session is one MDP node.
type Session struct {
	id      uint32
	cfg     Config
	sched   timer.Scheduler
	sock    netio.Socket
	group   net.Addr
	handler Handler
	factory store.Factory
	metrics metrics.Recorder
	rand    *rand.Rand

	pool    *msgPool
	queue   *txQueue
	txTimer *timer.Timer
	sendBuf []byte
	txRate  float64
	started time.Time

	server *server
	client *client

	notifying int
	deferred  []func()
	closed    bool

	sent     Counter
	received Counter
}

// New creates a Session with node id on sock. Server traffic is sent to group.
func New(id uint32, cfg Config, sched timer.Scheduler, sock netio.Socket, group net.Addr, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if group == nil {
		return nil, netio.ErrNoGroup
	}
	s := &Session{
		id:      id,
		cfg:     cfg,
		sched:   sched,
		sock:    sock,
		group:   group,
		factory: store.MemoryFactory{},
		metrics: metrics.NewDummy(),
		txRate:  cfg.TxRate,
		started: sched.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)))
	}
	s.pool = newMsgPool(cfg.MessagePool, cfg.SegmentSize)
	s.queue = newTxQueue()
	s.txTimer = timer.NewTimer(sched, s.onTxTimeout)
	s.sendBuf = make([]byte, protocol.ObjectHeaderLen+16+cfg.SegmentSize+cfg.NackBufferSize)
	return s, nil
}

// ID returns the node id.
func (s *Session) ID() uint32 { return s.id }

// Config returns the session parameters.
func (s *Session) Config() Config { return s.cfg }

// Now returns the scheduler time.
func (s *Session) Now() time.Time { return s.sched.Now() }

// Close shuts the server down immediately, closes the client and drops every
// queued message.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.CloseServer(false)
	s.CloseClient()
	s.txTimer.Stop()
	for m := s.queue.pop(); m != nil; m = s.queue.pop() {
		s.pool.put(m)
	}
	s.closed = true
	return nil
}

// HandlePacket processes one received datagram.
func (s *Session) HandlePacket(b []byte, from net.Addr) {
	if s.closed {
		return
	}
	msg, serverOriginated, err := protocol.Unpack(b)
	if err != nil {
		log.WithError(err).Debugf("Dropped packet from %s.", from)
		s.metrics.PacketDropped("malformed")
		return
	}
	if msg.Sender == s.id {
		return
	}
	s.received.add(len(b))
	s.metrics.PacketReceived(msg.Type().String(), len(b))

	if serverOriginated {
		if s.client != nil {
			s.client.handle(msg, from)
		}
		return
	}
	if s.server != nil {
		s.server.handle(msg, from)
	}
	if nack, ok := msg.Body.(*protocol.Nack); ok && s.client != nil {
		s.client.overhear(nack.ServerID, nack.Content)
	}
}

func (s *Session) newMsg(body protocol.Body, dst net.Addr) *outMsg {
	m := s.pool.get()
	if m == nil {
		log.Debugf("Message pool exhausted, %s not queued.", body.Type())
		return nil
	}
	m.msg = protocol.Message{Version: protocol.Version, Sender: s.id, Body: body}
	m.dst = dst
	return m
}

// enqueue queues a non-object message and starts transmission.
func (s *Session) enqueue(body protocol.Body, dst net.Addr) error {
	m := s.newMsg(body, dst)
	if m == nil {
		return ErrMessagePool
	}
	s.queue.push(m)
	s.kick()
	return nil
}

func (s *Session) kick() {
	if !s.txTimer.Active() {
		s.txTimer.Start(0, false)
	}
}

func (s *Session) onTxTimeout() {
	if s.closed {
		return
	}
	if s.server != nil {
		if head := s.queue.peek(); head == nil || head.prio < protocol.TypeData.Priority() {
			if m := s.server.serve(); m != nil {
				s.queue.push(m)
			}
		}
	}
	m := s.queue.pop()
	if m == nil {
		if s.server != nil {
			s.server.onIdle()
		}
		return
	}
	n := s.transmit(m)
	s.pool.put(m)

	if s.queue.len() == 0 && (s.server == nil || !s.server.pending()) {
		if s.server != nil {
			s.server.onIdle()
		}
		return
	}
	var interval time.Duration
	if s.server != nil && s.txRate > 0 {
		interval = time.Duration(float64(n) / s.txRate * float64(time.Second))
	}
	s.txTimer.Start(interval, false)
}

func (s *Session) transmit(m *outMsg) int {
	n, err := m.msg.Pack(s.sendBuf)
	if err != nil {
		log.WithError(err).Warnf("Failed to pack %s.", &m.msg)
		return 0
	}
	if err := s.sock.Send(s.sendBuf[:n], m.dst); err != nil {
		log.WithError(err).Debugf("Failed to send %s to %s.", &m.msg, m.dst)
		return n
	}
	s.sent.add(n)
	s.metrics.PacketSent(m.msg.Type().String(), n)
	return n
}

func (s *Session) backoff(max float64) time.Duration {
	return protocol.Duration(cc.Erand(s.rand, max, s.cfg.GroupSize))
}
