package session

import (
	"net"

	"github.com/emirpasic/gods/queues/priorityqueue"

	"github.com/skycoin/mdp/pkg/protocol"
)

// outMsg is a queued outgoing message. payload is a reusable buffer for
// segment content.
type outMsg struct {
	msg     protocol.Message
	dst     net.Addr
	object  uint32 // object id for INFO/DATA/PARITY
	payload []byte
	seq     uint64
	prio    int
}

// msgPool is the fixed arena outgoing messages are taken from.
type msgPool struct {
	free     []*outMsg
	created  int
	max      int
	size     int
	overruns int
}

func newMsgPool(max, payloadSize int) *msgPool {
	return &msgPool{max: max, size: payloadSize}
}

func (p *msgPool) get() *outMsg {
	if n := len(p.free); n > 0 {
		m := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return m
	}
	if p.created >= p.max {
		p.overruns++
		return nil
	}
	p.created++
	return &outMsg{payload: make([]byte, p.size)}
}

func (p *msgPool) put(m *outMsg) {
	m.msg = protocol.Message{}
	m.dst = nil
	m.object = 0
	p.free = append(p.free, m)
}

func (p *msgPool) inUse() int { return p.created - len(p.free) }

// txQueue orders messages by priority, highest first, and FIFO within a priority.
type txQueue struct {
	pq  *priorityqueue.Queue
	seq uint64
}

func newTxQueue() *txQueue {
	return &txQueue{pq: priorityqueue.NewWith(func(a, b interface{}) int {
		x, y := a.(*outMsg), b.(*outMsg)
		switch {
		case x.prio > y.prio:
			return -1
		case x.prio < y.prio:
			return 1
		case x.seq < y.seq:
			return -1
		case x.seq > y.seq:
			return 1
		}
		return 0
	})}
}

func (q *txQueue) push(m *outMsg) {
	q.seq++
	m.seq = q.seq
	m.prio = m.msg.Priority()
	q.pq.Enqueue(m)
}

func (q *txQueue) pop() *outMsg {
	v, ok := q.pq.Dequeue()
	if !ok {
		return nil
	}
	return v.(*outMsg)
}

func (q *txQueue) peek() *outMsg {
	v, ok := q.pq.Peek()
	if !ok {
		return nil
	}
	return v.(*outMsg)
}

func (q *txQueue) len() int { return q.pq.Size() }

// remove takes every message matching fn out of the queue and returns them.
func (q *txQueue) remove(fn func(m *outMsg) bool) []*outMsg {
	var out []*outMsg
	values := q.pq.Values()
	q.pq.Clear()
	for _, v := range values {
		m := v.(*outMsg)
		if fn(m) {
			out = append(out, m)
			continue
		}
		q.pq.Enqueue(m)
	}
	return out
}
