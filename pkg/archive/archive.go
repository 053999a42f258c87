// Package archive keeps a log of the objects a node sent and received.
package archive

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("archive")

var (
	// ErrNotFound is returned for unknown record ids.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned by a closed Log.
	ErrClosed = errors.New("archive closed")
)

// Direction tells whether a record describes a sent or a received object.
type Direction string

// Directions.
const (
	Sent     = Direction("tx")
	Received = Direction("rx")
)

// Result is how a transfer ended.
type Result string

// Results.
const (
	Completed = Result("completed")
	Acked     = Result("acked")
	Finished  = Result("finished")
	Aborted   = Result("aborted")
)

// Record describes one finished transfer.
type Record struct {
	ID        uuid.UUID `json:"id" cbor:"id"`
	Direction Direction `json:"direction" cbor:"dir"`
	// Node is the sending server for received objects and the local node otherwise.
	Node     uint32    `json:"node" cbor:"node"`
	ObjectID uint32    `json:"object_id" cbor:"oid"`
	Size     int64     `json:"size" cbor:"size"`
	Received int64     `json:"received" cbor:"recv"`
	Info     string    `json:"info,omitempty" cbor:"info,omitempty"`
	Path     string    `json:"path,omitempty" cbor:"path,omitempty"`
	Digest   uint64    `json:"digest,omitempty" cbor:"digest,omitempty"` // xxhash64 of the content
	Result   Result    `json:"result" cbor:"result"`
	Error    string    `json:"error,omitempty" cbor:"err,omitempty"`
	Started  time.Time `json:"started" cbor:"start"`
	Ended    time.Time `json:"ended" cbor:"end"`
}

// Duration returns how long the transfer took.
func (r *Record) Duration() time.Duration { return r.Ended.Sub(r.Started) }

// RangeFunc is used by Range to iterate over records in insertion order.
type RangeFunc func(r *Record) (next bool)

// Log stores transfer records.
type Log interface {
	// Add stores r, assigning r.ID when it is unset.
	Add(r *Record) error

	// Record returns the record with the given id.
	Record(id uuid.UUID) (*Record, error)

	// Range iterates over all records until fn returns false.
	Range(fn RangeFunc) error

	// Count returns the number of stored records.
	Count() int

	// Close releases the log.
	Close() error
}

type inMemoryLog struct {
	mu      sync.RWMutex
	order   []uuid.UUID
	records map[uuid.UUID]*Record
	closed  bool
}

// InMemoryLog returns a Log kept in memory.
func InMemoryLog() Log {
	return &inMemoryLog{records: make(map[uuid.UUID]*Record)}
}

func (l *inMemoryLog) Add(r *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, ok := l.records[r.ID]; !ok {
		l.order = append(l.order, r.ID)
	}
	cp := *r
	l.records[r.ID] = &cp
	return nil
}

func (l *inMemoryLog) Record(id uuid.UUID) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (l *inMemoryLog) Range(fn RangeFunc) error {
	l.mu.RLock()
	records := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		records = append(records, *l.records[id])
	}
	l.mu.RUnlock()

	for i := range records {
		if !fn(&records[i]) {
			break
		}
	}
	return nil
}

func (l *inMemoryLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *inMemoryLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
