package buffer

import (
	"errors"

	"github.com/skycoin/mdp/pkg/fec"
	"github.com/skycoin/mdp/pkg/store"
)

// ErrGeometry occurs for an object geometry no block layout can express.
var ErrGeometry = errors.New("buffer: invalid object geometry")

// Geometry maps an object of Size bytes onto blocks of NData segments of
// SegmentSize bytes plus NParity parity segments. The last block may hold
// fewer segments and its last segment may be a runt.
type Geometry struct {
	Size        int64
	SegmentSize int
	NData       int
	NParity     int
}

// Validate checks the geometry against wire and codec limits.
func (g Geometry) Validate() error {
	switch {
	case g.Size < 0 || g.Size > 0xffffffff:
		return ErrGeometry
	case g.SegmentSize <= 0 || g.SegmentSize > 0xffff:
		return ErrGeometry
	case g.NData <= 0 || g.NParity < 0 || g.NParity >= fec.MaxParity:
		return ErrGeometry
	case g.NData+g.NParity > fec.MaxCodeword:
		return ErrGeometry
	}
	return nil
}

// BlockBytes returns the data bytes of a full block.
func (g Geometry) BlockBytes() int64 { return int64(g.NData) * int64(g.SegmentSize) }

// NumSegments returns the number of data segments.
func (g Geometry) NumSegments() int64 {
	return (g.Size + int64(g.SegmentSize) - 1) / int64(g.SegmentSize)
}

// NumBlocks returns the number of blocks.
func (g Geometry) NumBlocks() uint32 {
	return uint32((g.NumSegments() + int64(g.NData) - 1) / int64(g.NData))
}

// LastBlock returns the id of the final block. It is only meaningful when NumBlocks > 0.
func (g Geometry) LastBlock() uint32 { return g.NumBlocks() - 1 }

// BlockLen returns the number of data segments in block id.
func (g Geometry) BlockLen(id uint32) int {
	nb := g.NumBlocks()
	if id >= nb {
		return 0
	}
	if id < nb-1 {
		return g.NData
	}
	return int(g.NumSegments() - int64(id)*int64(g.NData))
}

// SegmentLen returns the length in bytes of segment seg of block id.
func (g Geometry) SegmentLen(id uint32, seg int) int {
	off := g.Offset(id, seg)
	if seg < 0 || seg >= g.BlockLen(id) || off >= g.Size {
		return 0
	}
	if rem := g.Size - off; rem < int64(g.SegmentSize) {
		return int(rem)
	}
	return g.SegmentSize
}

// IsRunt reports whether segment seg of block id is shorter than SegmentSize.
func (g Geometry) IsRunt(id uint32, seg int) bool {
	n := g.SegmentLen(id, seg)
	return n > 0 && n < g.SegmentSize
}

// Offset returns the byte offset of segment seg of block id.
func (g Geometry) Offset(id uint32, seg int) int64 {
	return int64(id)*g.BlockBytes() + int64(seg)*int64(g.SegmentSize)
}

// Locate maps a segment offset back to its block and segment.
func (g Geometry) Locate(offset int64) (id uint32, seg int, ok bool) {
	if offset < 0 || offset >= g.Size || offset%int64(g.SegmentSize) != 0 {
		return 0, 0, false
	}
	return uint32(offset / g.BlockBytes()), int(offset % g.BlockBytes() / int64(g.SegmentSize)), true
}

// Object binds an object id and geometry to its data sink.
type Object struct {
	ID   uint32
	Geom Geometry
	Data store.ObjectData
	Info []byte
}

// ReadSegment reads segment seg of block id into buf and returns its length.
func (o *Object) ReadSegment(id uint32, seg int, buf []byte) (int, error) {
	n := o.Geom.SegmentLen(id, seg)
	if n == 0 {
		return 0, store.ErrOutOfRange
	}
	if len(buf) < n {
		n = len(buf)
	}
	return o.Data.ReadSegment(o.Geom.Offset(id, seg), buf[:n])
}

// WriteSegment writes the leading SegmentLen bytes of data as segment seg of block id.
func (o *Object) WriteSegment(id uint32, seg int, data []byte) error {
	n := o.Geom.SegmentLen(id, seg)
	if n == 0 {
		return store.ErrOutOfRange
	}
	if len(data) < n {
		n = len(data)
	}
	return o.Data.WriteSegment(o.Geom.Offset(id, seg), data[:n])
}
