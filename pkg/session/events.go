package session

import (
	"fmt"

	"github.com/skycoin/mdp/pkg/store"
)

// EventType identifies a notification.
type EventType byte

// Notifications delivered to the Session handler.
const (
	RxStart EventType = iota + 1
	RxInfo
	RxUpdate
	RxComplete
	RxAbort
	TxStart
	TxFirstPass
	TxAckComplete
	TxFinished
	TxAbort
	TxQueueEmpty
	RemoteServerInactive
	Error
)

func (t EventType) String() string {
	var names = []string{
		RxStart:              "RX_START",
		RxInfo:               "RX_INFO",
		RxUpdate:             "RX_UPDATE",
		RxComplete:           "RX_COMPLETE",
		RxAbort:              "RX_ABORT",
		TxStart:              "TX_START",
		TxFirstPass:          "TX_FIRST_PASS",
		TxAckComplete:        "TX_ACK_COMPLETE",
		TxFinished:           "TX_FINISHED",
		TxAbort:              "TX_ABORT",
		TxQueueEmpty:         "TX_QUEUE_EMPTY",
		RemoteServerInactive: "REMOTE_SERVER_INACTIVE",
		Error:                "ERROR",
	}
	if t == 0 || int(t) >= len(names) {
		return fmt.Sprintf("UNKNOWN:%d", t)
	}
	return names[t]
}

// Event is passed to the notification handler. Node is the remote server
// for receive events and zero otherwise.
type Event struct {
	Type     EventType
	Node     uint32
	ObjectID uint32
	Size     int64
	// Received counts the object's data bytes buffered or written so far.
	Received int64
	Info     []byte
	Data     store.ObjectData
	Err      error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s node=%08x object=%d err=%v", e.Type, e.Node, e.ObjectID, e.Err)
	}
	return fmt.Sprintf("%s node=%08x object=%d %d/%d", e.Type, e.Node, e.ObjectID, e.Received, e.Size)
}

// Handler receives notifications on the session goroutine. It may call any
// Session method; aborts it requests take effect after it returns.
type Handler func(s *Session, e Event)

// notify runs the handler and then any work deferred while it ran.
func (s *Session) notify(e Event) {
	if s.handler == nil {
		return
	}
	s.notifying++
	s.handler(s, e)
	s.notifying--
	if s.notifying > 0 {
		return
	}
	for len(s.deferred) > 0 {
		fn := s.deferred[0]
		s.deferred = s.deferred[1:]
		fn()
	}
}

// later runs fn now, or after the current notification when called from a handler.
func (s *Session) later(fn func()) {
	if s.notifying > 0 {
		s.deferred = append(s.deferred, fn)
		return
	}
	fn()
}
