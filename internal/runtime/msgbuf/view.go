// Package msgbuf provides bounds-checked access to binary message buffers:
// read-only views for decoding, offset pointers and a growable builder for
// encoding.
package msgbuf

import (
	"encoding/binary"
	"math"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// View is a position inside a message buffer. Every read is checked against
// the end of the whole buffer so pointers may reference data outside the
// fixed part of the message.
type View struct {
	buf []byte
	off int
}

// New returns a view of data starting at offset zero.
func New(data []byte) View { return View{buf: data} }

// At returns a view shifted by off bytes. Bounds are checked on read.
func (v View) At(off int) View { return View{buf: v.buf, off: v.off + off} }

// Offset returns the absolute position of the view in its buffer.
func (v View) Offset() int { return v.off }

// Len returns the number of bytes from the view position to the end of the
// buffer.
func (v View) Len() int {
	if v.off > len(v.buf) {
		return 0
	}
	return len(v.buf) - v.off
}

// Buffer returns the whole underlying buffer.
func (v View) Buffer() []byte { return v.buf }

// Check verifies that size bytes starting at off are inside the buffer.
func (v View) Check(off, size int) error {
	start := v.off + off
	if off < 0 || size < 0 || start < 0 || start > len(v.buf) || size > len(v.buf)-start {
		return errspkg.Decode("access [%d, +%d) out of buffer of %d bytes", start, size, len(v.buf))
	}
	return nil
}

// Slice returns size bytes at off without copying.
func (v View) Slice(off, size int) ([]byte, error) {
	if err := v.Check(off, size); err != nil {
		return nil, err
	}
	start := v.off + off
	return v.buf[start : start+size : start+size], nil
}

func (v View) Uint8(off int) (uint8, error) {
	b, err := v.Slice(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (v View) Uint16(off int) (uint16, error) {
	b, err := v.Slice(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (v View) Uint32(off int) (uint32, error) {
	b, err := v.Slice(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (v View) Uint64(off int) (uint64, error) {
	b, err := v.Slice(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (v View) Float64(off int) (float64, error) {
	u, err := v.Uint64(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// Uint reads an unsigned integer of size bytes.
func (v View) Uint(off, size int) (uint64, error) {
	switch size {
	case 1:
		x, err := v.Uint8(off)
		return uint64(x), err
	case 2:
		x, err := v.Uint16(off)
		return uint64(x), err
	case 4:
		x, err := v.Uint32(off)
		return uint64(x), err
	case 8:
		return v.Uint64(off)
	}
	return 0, errspkg.Decode("unsupported integer size %d", size)
}

// Int reads a signed integer of size bytes.
func (v View) Int(off, size int) (int64, error) {
	u, err := v.Uint(off, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	}
	return int64(u), nil
}
