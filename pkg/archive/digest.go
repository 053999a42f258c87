package archive

import (
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/skycoin/mdp/pkg/store"
)

const digestChunk = 64 << 10

// Digest returns the xxhash64 of the content of d. File objects are read
// back from their path so that closed or renamed receive files still hash.
func Digest(d store.ObjectData) (uint64, error) {
	switch v := d.(type) {
	case *store.Memory:
		return xxhash.Sum64(v.Bytes()), nil
	case *store.File:
		f, err := os.Open(v.Path()) // nolint: gosec
		if err != nil {
			return 0, errors.Wrap(err, "failed to open object file")
		}
		defer f.Close() // nolint: errcheck
		h := xxhash.New()
		if _, err := io.Copy(h, f); err != nil {
			return 0, errors.Wrap(err, "failed to read object file")
		}
		return h.Sum64(), nil
	}

	h := xxhash.New()
	buf := make([]byte, digestChunk)
	for off := int64(0); off < d.Size(); {
		n, err := d.ReadSegment(off, buf)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to read object at %d", off)
		}
		if n == 0 {
			break
		}
		h.Write(buf[:n]) // nolint: errcheck
		off += int64(n)
	}
	return h.Sum64(), nil
}
