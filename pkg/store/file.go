package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("store")

const partialSuffix = ".part"

// File is an ObjectData backed by a file.
type File struct {
	f     *os.File
	size  int64
	path  string
	final string
}

// OpenFile opens an existing file for transmission.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, errors.Wrap(err, "failed to open object file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.Wrap(err, "failed to stat object file")
	}
	return &File{f: f, size: info.Size(), path: path}, nil
}

// CreateFile creates a receive file of size bytes. Segments go to a partial
// file next to path that Complete renames to path.
func CreateFile(path string, size int64) (*File, error) {
	partial := path + partialSuffix
	f, err := os.OpenFile(partial, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644) // nolint: gosec
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object file")
	}
	if err := f.Truncate(size); err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.Wrap(err, "failed to size object file")
	}
	return &File{f: f, size: size, path: partial, final: path}, nil
}

// Path returns the file name segments are read from or written to.
func (f *File) Path() string { return f.path }

// ReadSegment implements ObjectData.
func (f *File) ReadSegment(offset int64, buf []byte) (int, error) {
	if f.f == nil {
		return 0, ErrClosed
	}
	if offset < 0 || offset > f.size {
		return 0, ErrOutOfRange
	}
	n, err := f.f.ReadAt(buf, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteSegment implements ObjectData.
func (f *File) WriteSegment(offset int64, data []byte) error {
	if f.f == nil {
		return ErrClosed
	}
	if err := checkRange(offset, len(data), f.size); err != nil {
		return err
	}
	_, err := f.f.WriteAt(data, offset)
	return err
}

// Size implements ObjectData.
func (f *File) Size() int64 { return f.size }

// Close implements io.Closer.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// Complete implements Completer: the receive file is closed and moved to its final name.
func (f *File) Complete() error {
	if f.final == "" {
		return nil
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.path, f.final); err != nil {
		return errors.Wrapf(err, "failed to rename %s", f.path)
	}
	f.path, f.final = f.final, ""
	return nil
}

// Discard implements Discarder: an unfinished receive file is removed.
func (f *File) Discard() error {
	if f.final == "" {
		return nil
	}
	f.Close() // nolint: errcheck
	return os.Remove(f.path)
}

// DirFactory stores objects sent with the FILE flag in Dir and keeps the rest
// in memory. The file name comes from the object info when it holds a usable
// base name.
type DirFactory struct {
	Dir string
}

// Open implements Factory.
func (d DirFactory) Open(meta Meta) (ObjectData, error) {
	if !meta.File {
		return NewMemory(meta.Size), nil
	}
	path := filepath.Join(d.Dir, FileName(meta))
	log.Debugf("receiving object %d from %08x into %s", meta.ObjectID, meta.Sender, path)
	return CreateFile(path, meta.Size)
}

// FileName derives a safe local file name for an incoming object.
func FileName(meta Meta) string {
	name := strings.TrimRight(string(meta.Info), "\x00")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" || strings.HasSuffix(name, partialSuffix) {
		return fmt.Sprintf("mdp-%08x-%d", meta.Sender, meta.ObjectID)
	}
	return name
}
