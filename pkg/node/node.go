// Package node runs an mdp session on a real-time loop with its socket,
// transfer archive and status endpoint.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/mdp/internal/metrics"
	"github.com/skycoin/mdp/pkg/archive"
	"github.com/skycoin/mdp/pkg/config"
	"github.com/skycoin/mdp/pkg/netio"
	"github.com/skycoin/mdp/pkg/session"
	"github.com/skycoin/mdp/pkg/timer"
)

var log = logging.MustGetLogger("node")

// Version is the node version.
const Version = "0.1.0"

const statsInterval = time.Second

var (
	// ErrNothingToSend is returned by Send without paths.
	ErrNothingToSend = errors.New("nothing to send")

	// ErrSending is returned by Send while an earlier Send is in progress.
	ErrSending = errors.New("send in progress")
)

// Dialer opens the socket of a node. Received datagrams go to h through post.
// It returns the socket and the address server traffic is sent to.
type Dialer func(post netio.Poster, h netio.Handler) (netio.Socket, net.Addr, error)

// UDPDialer opens a UDP socket with cfg.
func UDPDialer(cfg netio.UDPConfig) Dialer {
	return func(post netio.Poster, h netio.Handler) (netio.Socket, net.Addr, error) {
		sock, err := netio.ListenUDP(cfg, post, h)
		if err != nil {
			return nil, nil, err
		}
		return sock, sock.Group(), nil
	}
}

// Option configures a Node.
type Option func(n *Node)

// WithLoop runs the node on a shared loop. The caller runs the loop, and
// must build every node before the loop starts.
func WithLoop(l *timer.Loop) Option { return func(n *Node) { n.loop, n.sharedLoop = l, true } }

// WithDialer replaces the UDP socket of the config.
func WithDialer(d Dialer) Option { return func(n *Node) { n.dial = d } }

// WithMetrics sets the session metrics recorder.
func WithMetrics(m metrics.Recorder) Option { return func(n *Node) { n.metrics = m } }

// WithRequestMetrics records status endpoint requests.
func WithRequestMetrics(m metrics.RequestRecorder) Option {
	return func(n *Node) { n.reqMetrics = m }
}

// WithHandler adds an observer of session notifications.
func WithHandler(h session.Handler) Option {
	return func(n *Node) { n.handlers = append(n.handlers, h) }
}

// Node is an mdp session with its runtime.
type Node struct {
	conf *config.Config
	id   uint32

	loop       *timer.Loop
	sharedLoop bool
	running    int32
	dial       Dialer
	sock       netio.Socket
	group      net.Addr
	sess       *session.Session

	archive    archive.Log
	journal    *archive.Journal
	metrics    metrics.Recorder
	reqMetrics metrics.RequestRecorder
	handlers   []session.Handler
	stats      *timer.Timer
	router     http.Handler

	// loop goroutine only
	outstanding map[uint32]bool
	sendDone    chan struct{}
	received    int
	recvWaiters []recvWaiter
}

type recvWaiter struct {
	count int
	done  chan struct{}
}

// New builds a node from conf. Nothing is sent or received before Send or
// Receive.
func New(conf *config.Config, opts ...Option) (*Node, error) {
	id, err := conf.NodeID()
	if err != nil {
		return nil, err
	}
	sc, err := conf.SessionConfig()
	if err != nil {
		return nil, err
	}
	factory, err := conf.Factory()
	if err != nil {
		return nil, err
	}

	n := &Node{
		conf:        conf,
		id:          id,
		metrics:     metrics.NewDummy(),
		outstanding: make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.loop == nil {
		n.loop = timer.NewLoop()
	}
	if n.dial == nil {
		uc, err := conf.UDPConfig()
		if err != nil {
			return nil, err
		}
		n.dial = UDPDialer(uc)
	}

	if n.archive, err = conf.ArchiveLog(); err != nil {
		return nil, err
	}
	n.journal = archive.NewJournal(n.archive, id)

	n.sock, n.group, err = n.dial(n.loop.Post, n.handlePacket)
	if err != nil {
		n.archive.Close() // nolint: errcheck
		return nil, err
	}
	n.sess, err = session.New(id, sc, n.loop, n.sock, n.group,
		session.WithHandler(n.handle),
		session.WithFactory(factory),
		session.WithMetrics(n.metrics))
	if err != nil {
		n.sock.Close()    // nolint: errcheck
		n.archive.Close() // nolint: errcheck
		return nil, err
	}
	n.router = n.routes()
	n.stats = timer.NewTimer(n.loop, n.updateStats)
	n.loop.Post(func() {
		n.stats.Start(statsInterval, true)
		n.updateStats()
	})
	log.Infof("Node %08x (%s) on %s, group %s.", id, conf.Node.Name, n.sock.LocalAddr(), n.group)
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() uint32 { return n.id }

// Archive returns the transfer log.
func (n *Node) Archive() archive.Log { return n.archive }

// Run runs the node loop until ctx is done. A node on a shared loop only
// waits for ctx.
func (n *Node) Run(ctx context.Context) error {
	if n.sharedLoop {
		<-ctx.Done()
		return nil
	}
	atomic.StoreInt32(&n.running, 1)
	defer atomic.StoreInt32(&n.running, 0)
	err := n.loop.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func (n *Node) handlePacket(b []byte, from net.Addr) { n.sess.HandlePacket(b, from) }

// Send queues the files at paths, closes the server gracefully and waits
// until every object is finished or ctx is done.
func (n *Node) Send(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return ErrNothingToSend
	}
	var done chan struct{}
	var err error
	doErr := n.loop.Do(ctx, func() {
		if n.sendDone != nil {
			err = ErrSending
			return
		}
		if err = n.sess.OpenServer(config.RandomNodeID()); err != nil {
			return
		}
		for _, p := range paths {
			id, qerr := n.sess.QueueTxFile(p, nil)
			if qerr != nil {
				err = qerr
				n.sess.CloseServer(false)
				n.outstanding = make(map[uint32]bool)
				return
			}
			n.outstanding[id] = true
			log.Infof("Queued %s as object %d.", p, id)
		}
		n.sendDone = make(chan struct{})
		done = n.sendDone
		n.sess.CloseServer(true)
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive starts the client side.
func (n *Node) Receive(ctx context.Context) error {
	var err error
	if doErr := n.loop.Do(ctx, func() { err = n.sess.OpenClient() }); doErr != nil {
		return doErr
	}
	return err
}

// WaitReceived blocks until count objects have been received since the node
// started, or ctx is done.
func (n *Node) WaitReceived(ctx context.Context, count int) error {
	done := make(chan struct{})
	if err := n.loop.Do(ctx, func() {
		if n.received >= count {
			close(done)
			return
		}
		n.recvWaiters = append(n.recvWaiters, recvWaiter{count: count, done: done})
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle runs on the loop for every session notification.
func (n *Node) handle(s *session.Session, e session.Event) {
	switch e.Type {
	case session.RxUpdate, session.TxQueueEmpty:
		log.Debug(e)
	case session.Error, session.RxAbort, session.TxAbort:
		log.Warn(e)
	default:
		log.Info(e)
	}
	n.journal.Handle(s, e)
	for _, h := range n.handlers {
		h(s, e)
	}

	switch e.Type {
	case session.TxFinished, session.TxAbort:
		delete(n.outstanding, e.ObjectID)
		if n.sendDone != nil && len(n.outstanding) == 0 {
			close(n.sendDone)
			n.sendDone = nil
		}
	case session.RxComplete:
		n.received++
		waiters := n.recvWaiters[:0]
		for _, w := range n.recvWaiters {
			if n.received >= w.count {
				close(w.done)
				continue
			}
			waiters = append(waiters, w)
		}
		n.recvWaiters = waiters
	}
}

// Close shuts the session down and releases the socket and archive.
func (n *Node) Close() error {
	var err error
	closeAll := func() {
		n.stats.Stop()
		n.sess.Close() // nolint: errcheck
		err = n.sock.Close()
	}
	if n.sharedLoop || atomic.LoadInt32(&n.running) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if n.loop.Do(ctx, closeAll) != nil {
			log.Warn("Loop did not respond, closing from the caller.")
			closeAll()
		}
	} else {
		closeAll()
	}
	if cerr := n.archive.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
