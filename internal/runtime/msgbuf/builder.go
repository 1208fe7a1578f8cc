package msgbuf

import (
	"encoding/binary"
	"math"

	"github.com/drblury/luaflow/internal/runtime/scheme"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Builder grows a message buffer. Positions are absolute offsets so they stay
// valid when the buffer is reallocated.
type Builder struct {
	buf []byte
}

// NewBuilder returns a builder with size zeroed bytes already allocated for
// the fixed part of a message.
func NewBuilder(size int) *Builder {
	return &Builder{buf: make([]byte, size, size*2+16)}
}

// Bytes returns the encoded buffer.
func (b *Builder) Bytes() []byte { return b.buf }

// Len returns the current buffer length.
func (b *Builder) Len() int { return len(b.buf) }

// Alloc appends size zeroed bytes and returns their offset.
func (b *Builder) Alloc(size int) int {
	off := len(b.buf)
	b.buf = append(b.buf, make([]byte, size)...)
	return off
}

// View returns a read view of the bytes written so far.
func (b *Builder) View() View { return New(b.buf) }

func (b *Builder) PutUint8(off int, v uint8) { b.buf[off] = v }

func (b *Builder) PutUint16(off int, v uint16) { binary.LittleEndian.PutUint16(b.buf[off:], v) }

func (b *Builder) PutUint32(off int, v uint32) { binary.LittleEndian.PutUint32(b.buf[off:], v) }

func (b *Builder) PutUint64(off int, v uint64) { binary.LittleEndian.PutUint64(b.buf[off:], v) }

func (b *Builder) PutFloat64(off int, v float64) { b.PutUint64(off, math.Float64bits(v)) }

// PutUint stores the low size bytes of v.
func (b *Builder) PutUint(off, size int, v uint64) {
	switch size {
	case 1:
		b.PutUint8(off, uint8(v))
	case 2:
		b.PutUint16(off, uint16(v))
	case 4:
		b.PutUint32(off, uint32(v))
	default:
		b.PutUint64(off, v)
	}
}

// Copy writes data at off. The destination must already be allocated.
func (b *Builder) Copy(off int, data []byte) { copy(b.buf[off:], data) }

// AllocPointer writes the pointer header at off, appends a zeroed region for
// count elements of entity bytes and returns the absolute offset of the first
// element. An empty pointer is stored with a zero offset.
func (b *Builder) AllocPointer(off int, version scheme.PointerVersion, count, entity int) (int, error) {
	if count == 0 {
		for i := 0; i < version.Size(); i++ {
			b.buf[off+i] = 0
		}
		return len(b.buf), nil
	}
	rel := len(b.buf) - off
	switch version {
	case scheme.PtrLegacyShort:
		if count > math.MaxUint16 || rel > math.MaxUint16 {
			return 0, errspkg.Encode("legacy-short pointer can not hold %d elements at offset %d", count, rel)
		}
		b.PutUint16(off, uint16(rel))
		b.PutUint16(off+2, uint16(count))
	case scheme.PtrLegacyLong:
		b.PutUint64(off, uint64(rel))
		b.PutUint32(off+8, uint32(count))
		b.PutUint32(off+12, uint32(entity))
	default:
		if count > maxDefaultCount {
			return 0, errspkg.Encode("pointer can not hold %d elements", count)
		}
		if rel > math.MaxUint32 {
			return 0, errspkg.Encode("pointer offset %d too large", rel)
		}
		b.PutUint32(off, uint32(rel))
		if entity >= LargeEntity {
			b.PutUint32(off+4, uint32(count)|LargeEntity<<24)
			hdr := b.Alloc(4)
			b.PutUint32(hdr, uint32(entity))
		} else {
			b.PutUint32(off+4, uint32(count)|uint32(entity)<<24)
		}
	}
	return b.Alloc(count * entity), nil
}
