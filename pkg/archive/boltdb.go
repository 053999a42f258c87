package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	indexBucket   = []byte("index")
)

var errStopped = errors.New("iterator stopped")

type boltDBLog struct {
	db  *bbolt.DB
	enc cbor.EncMode
	dec cbor.DecMode
}

// BoltDBLog opens (or creates) a Log stored in a BoltDB file at path.
// Records are CBOR encoded and kept in insertion order.
func BoltDBLog(path string) (Log, error) {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open archive")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket: %s", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close() // nolint: errcheck
		return nil, err
	}
	return &boltDBLog{db: db, enc: enc, dec: dec}, nil
}

func (l *boltDBLog) Add(r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	raw, err := l.enc.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		records, index := tx.Bucket(recordsBucket), tx.Bucket(indexBucket)
		key := index.Get(r.ID[:])
		if key == nil {
			seq, err := records.NextSequence()
			if err != nil {
				return err
			}
			key = binarySeq(seq)
			if err := index.Put(r.ID[:], key); err != nil {
				return err
			}
		}
		return records.Put(key, raw)
	})
}

func (l *boltDBLog) Record(id uuid.UUID) (*Record, error) {
	var r *Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(indexBucket).Get(id[:])
		if key == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(recordsBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		r = new(Record)
		return l.dec.Unmarshal(raw, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (l *boltDBLog) Range(fn RangeFunc) error {
	return l.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var r Record
			if err := l.dec.Unmarshal(v, &r); err != nil {
				log.WithError(err).Warnf("Skipping undecodable record %d.", binary.BigEndian.Uint64(k))
				return nil
			}
			if !fn(&r) {
				return errStopped
			}
			return nil
		})
		if err == errStopped {
			return nil
		}
		return err
	})
}

func (l *boltDBLog) Count() (count int) {
	err := l.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0
	}
	return count
}

func (l *boltDBLog) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

func binarySeq(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
