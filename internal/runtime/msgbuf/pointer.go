package msgbuf

import (
	"github.com/drblury/luaflow/internal/runtime/scheme"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// LargeEntity marks a default pointer whose element stride does not fit in
// the uint8 entity slot. The real stride is stored as uint32 at the target
// offset and the elements follow it.
const LargeEntity = 0xff

const maxDefaultCount = 1<<24 - 1

// Pointer is a decoded offset pointer: Count elements of Entity bytes each
// starting at Data.
type Pointer struct {
	Data   View
	Count  int
	Entity int
}

// Elem returns the view of element i.
func (p Pointer) Elem(i int) View { return p.Data.At(i * p.Entity) }

// ReadPointer decodes the pointer header at off. elemSize is the element size
// the schema expects; a smaller stored entity is rejected, a larger one is
// accepted so newer producers may extend elements.
func ReadPointer(v View, off int, version scheme.PointerVersion, elemSize int) (Pointer, error) {
	var (
		rel    uint64
		count  int
		entity int
	)
	switch version {
	case scheme.PtrLegacyShort:
		o, err := v.Uint16(off)
		if err != nil {
			return Pointer{}, err
		}
		s, err := v.Uint16(off + 2)
		if err != nil {
			return Pointer{}, err
		}
		rel, count, entity = uint64(o), int(s), elemSize
	case scheme.PtrLegacyLong:
		o, err := v.Uint64(off)
		if err != nil {
			return Pointer{}, err
		}
		s, err := v.Uint32(off + 8)
		if err != nil {
			return Pointer{}, err
		}
		e, err := v.Uint32(off + 12)
		if err != nil {
			return Pointer{}, err
		}
		rel, count, entity = o, int(s), int(e)
	default:
		o, err := v.Uint32(off)
		if err != nil {
			return Pointer{}, err
		}
		se, err := v.Uint32(off + 4)
		if err != nil {
			return Pointer{}, err
		}
		rel, count, entity = uint64(o), int(se&0xffffff), int(se>>24)
	}

	if count == 0 {
		return Pointer{Data: v.At(off), Entity: max(entity, elemSize)}, nil
	}
	if rel > uint64(v.Len()) {
		return Pointer{}, errspkg.Decode("pointer offset %d out of buffer", rel)
	}
	data := v.At(off + int(rel))

	if version == scheme.PtrDefault && entity == LargeEntity {
		stride, err := data.Uint32(0)
		if err != nil {
			return Pointer{}, err
		}
		entity = int(stride)
		data = data.At(4)
	}
	if entity < elemSize {
		return Pointer{}, errspkg.Decode("pointer entity %d smaller than element size %d", entity, elemSize)
	}
	if err := data.Check(0, count*entity); err != nil {
		return Pointer{}, errspkg.Decode("pointer data (%d x %d bytes) out of buffer", count, entity)
	}
	return Pointer{Data: data, Count: count, Entity: entity}, nil
}
