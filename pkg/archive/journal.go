package archive

import (
	"strings"
	"sync"
	"time"

	"github.com/skycoin/mdp/pkg/session"
	"github.com/skycoin/mdp/pkg/store"
)

type transferKey struct {
	node uint32
	id   uint32
}

// Journal turns session notifications into archive records. Its Handle
// method is meant to be chained into the session handler.
type Journal struct {
	log  Log
	node uint32

	mu      sync.Mutex
	started map[transferKey]time.Time
	acked   map[uint32]bool
}

// NewJournal writes the transfers of local node into l.
func NewJournal(l Log, node uint32) *Journal {
	return &Journal{
		log:     l,
		node:    node,
		started: make(map[transferKey]time.Time),
		acked:   make(map[uint32]bool),
	}
}

// Log returns the log records are written to.
func (j *Journal) Log() Log { return j.log }

// Handle records e. Events that end no transfer only update bookkeeping.
func (j *Journal) Handle(s *session.Session, e session.Event) {
	now := s.Now()
	j.mu.Lock()
	defer j.mu.Unlock()

	switch e.Type {
	case session.TxStart:
		j.started[transferKey{0, e.ObjectID}] = now
	case session.RxStart:
		j.started[transferKey{e.Node, e.ObjectID}] = now
	case session.TxAckComplete:
		j.acked[e.ObjectID] = true
	case session.TxFinished, session.TxAbort:
		r := j.record(Sent, transferKey{0, e.ObjectID}, e, now)
		r.Node = j.node
		r.Received = e.Size
		switch {
		case e.Type == session.TxAbort:
			r.Result = Aborted
		case j.acked[e.ObjectID]:
			r.Result = Acked
		default:
			r.Result = Finished
		}
		delete(j.acked, e.ObjectID)
		j.add(r)
	case session.RxComplete, session.RxAbort:
		r := j.record(Received, transferKey{e.Node, e.ObjectID}, e, now)
		r.Result = Completed
		if e.Type == session.RxAbort {
			r.Result = Aborted
		} else if e.Data != nil {
			d, err := Digest(e.Data)
			if err != nil {
				log.WithError(err).Warnf("Cannot digest object %d from %08x.", e.ObjectID, e.Node)
			}
			r.Digest = d
		}
		j.add(r)
	}
}

func (j *Journal) record(dir Direction, k transferKey, e session.Event, now time.Time) *Record {
	started, ok := j.started[k]
	if !ok {
		started = now
	}
	delete(j.started, k)
	r := &Record{
		Direction: dir,
		Node:      e.Node,
		ObjectID:  e.ObjectID,
		Size:      e.Size,
		Received:  e.Received,
		Info:      strings.TrimRight(string(e.Info), "\x00"),
		Started:   started,
		Ended:     now,
	}
	if f, ok := e.Data.(*store.File); ok {
		r.Path = f.Path()
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}

func (j *Journal) add(r *Record) {
	if err := j.log.Add(r); err != nil {
		log.WithError(err).Warnf("Failed to archive %s object %d.", r.Direction, r.ObjectID)
		return
	}
	log.Debugf("Archived %s object %d as %s (%s).", r.Direction, r.ObjectID, r.ID, r.Result)
}
