package archive

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func LogSuite(t *testing.T, l Log) {
	t.Helper()

	start := time.Unix(1500000000, 0).UTC()
	r1 := &Record{
		Direction: Received,
		Node:      7,
		ObjectID:  1,
		Size:      25500,
		Received:  25500,
		Info:      "report.bin",
		Digest:    0xdeadbeef,
		Result:    Completed,
		Started:   start,
		Ended:     start.Add(1500 * time.Millisecond),
	}
	require.NoError(t, l.Add(r1))
	require.NotEqual(t, uuid.Nil, r1.ID)
	assert.Equal(t, 1, l.Count())

	got, err := l.Record(r1.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ObjectID, got.ObjectID)
	assert.Equal(t, r1.Info, got.Info)
	assert.Equal(t, r1.Digest, got.Digest)
	assert.Equal(t, r1.Result, got.Result)
	assert.True(t, r1.Started.Equal(got.Started))
	assert.Equal(t, 1500*time.Millisecond, got.Duration())

	r2 := &Record{Direction: Sent, Node: 1, ObjectID: 2, Result: Aborted, Error: "boom"}
	require.NoError(t, l.Add(r2))
	assert.Equal(t, 2, l.Count())

	// re-adding an id replaces the record in place
	r2.Result = Finished
	require.NoError(t, l.Add(r2))
	assert.Equal(t, 2, l.Count())

	var ids []uuid.UUID
	require.NoError(t, l.Range(func(r *Record) bool {
		ids = append(ids, r.ID)
		return true
	}))
	assert.Equal(t, []uuid.UUID{r1.ID, r2.ID}, ids)

	got, err = l.Record(r2.ID)
	require.NoError(t, err)
	assert.Equal(t, Finished, got.Result)

	n := 0
	require.NoError(t, l.Range(func(*Record) bool {
		n++
		return false
	}))
	assert.Equal(t, 1, n)

	_, err = l.Record(uuid.New())
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, l.Close())
}

func TestInMemoryLog(t *testing.T) {
	l := InMemoryLog()
	LogSuite(t, l)
	assert.Equal(t, ErrClosed, l.Add(&Record{}))
}

func TestBoltDBLog(t *testing.T) {
	dir, err := ioutil.TempDir("", "mdp-archive")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()
	path := filepath.Join(dir, "archive.db")

	l, err := BoltDBLog(path)
	require.NoError(t, err)
	LogSuite(t, l)

	// records survive a reopen
	l, err = BoltDBLog(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, l.Close())
	}()
	assert.Equal(t, 2, l.Count())
}
