package scheme

import (
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Compare checks that have can carry every message of want. In strict mode
// the two schemes must describe the same messages, fields, enum values and
// bits. In relaxed mode have may be a superset: extra messages, extra
// trailing fields of top level messages, extra enum values and extra bits
// are accepted, everything present in want must match exactly.
func Compare(want, have *Scheme, relaxed bool) error {
	if want == nil || have == nil {
		if want == have {
			return nil
		}
		return errspkg.Config("compare scheme", "scheme present on one side only")
	}
	if !relaxed && len(want.Messages) != len(have.Messages) {
		return errspkg.Config("compare scheme", "message count differs: %d != %d", len(want.Messages), len(have.Messages))
	}
	c := comparer{relaxed: relaxed, seen: make(map[[2]*Message]bool)}
	for _, mw := range want.Messages {
		mh, ok := have.Lookup(mw.Name)
		if !ok {
			return errspkg.Config("compare scheme", "message %q missing", mw.Name)
		}
		if err := c.message(mw, mh, true); err != nil {
			return errspkg.WithOp("compare scheme", err)
		}
	}
	return nil
}

type comparer struct {
	relaxed bool
	seen    map[[2]*Message]bool
}

func (c comparer) message(want, have *Message, top bool) error {
	key := [2]*Message{want, have}
	if c.seen[key] {
		return nil
	}
	c.seen[key] = true

	if want.MsgID != have.MsgID {
		return errspkg.Config("message "+want.Name, "message id differs: %d != %d", want.MsgID, have.MsgID)
	}
	extra := len(have.Fields) - len(want.Fields)
	if extra < 0 || (extra > 0 && (!c.relaxed || !top)) {
		return errspkg.Config("message "+want.Name, "field count differs: %d != %d", len(want.Fields), len(have.Fields))
	}
	for i, fw := range want.Fields {
		fh := have.Fields[i]
		if fw.Name != fh.Name {
			return errspkg.Config("message "+want.Name, "field %d name differs: %q != %q", i, fw.Name, fh.Name)
		}
		if err := c.field(fw, fh); err != nil {
			return errspkg.WithOp("message "+want.Name+" field "+fw.Name, err)
		}
	}
	return nil
}

func (c comparer) field(want, have *Field) error {
	if want.Type != have.Type || want.SubType != have.SubType {
		return errspkg.Config("", "type differs: %s/%s != %s/%s", want.Type, want.SubType, have.Type, have.SubType)
	}
	if want.Size != have.Size || want.Offset != have.Offset {
		return errspkg.Config("", "layout differs: size %d offset %d != size %d offset %d", want.Size, want.Offset, have.Size, have.Offset)
	}
	if want.Optional != have.Optional || want.PMapIndex != have.PMapIndex {
		return errspkg.Config("", "presence tracking differs")
	}
	switch want.SubType {
	case SubEnum:
		if err := c.enum(want.Enum, have.Enum); err != nil {
			return err
		}
	case SubBits:
		if err := c.bits(want.Bits, have.Bits); err != nil {
			return err
		}
	case SubFixed:
		if want.FixedPrecision != have.FixedPrecision {
			return errspkg.Config("", "fixed precision differs: %d != %d", want.FixedPrecision, have.FixedPrecision)
		}
	case SubTimePoint:
		if want.Resolution != have.Resolution {
			return errspkg.Config("", "resolution differs: %s != %s", want.Resolution.Name, have.Resolution.Name)
		}
	}
	switch want.Type {
	case TypeMessage:
		return c.message(want.TypeMsg, have.TypeMsg, false)
	case Array:
		if want.Count != have.Count {
			return errspkg.Config("", "array capacity differs: %d != %d", want.Count, have.Count)
		}
		return c.field(want.Elem, have.Elem)
	case Pointer:
		if want.PtrVersion != have.PtrVersion {
			return errspkg.Config("", "pointer version differs")
		}
		return c.field(want.Elem, have.Elem)
	}
	return nil
}

func (c comparer) enum(want, have *Enum) error {
	if !c.relaxed && len(want.Values) != len(have.Values) {
		return errspkg.Config("", "enum %s value count differs", want.Name)
	}
	for _, v := range want.Values {
		hv, ok := have.Lookup(v.Name)
		if !ok || hv != v.Value {
			return errspkg.Config("", "enum %s value %s differs", want.Name, v.Name)
		}
	}
	return nil
}

func (c comparer) bits(want, have *Bits) error {
	if !c.relaxed && len(want.Fields) != len(have.Fields) {
		return errspkg.Config("", "bits %s count differs", want.Name)
	}
	for _, b := range want.Fields {
		hb, ok := have.Lookup(b.Name)
		if !ok || hb != b {
			return errspkg.Config("", "bits %s bit %s differs", want.Name, b.Name)
		}
	}
	return nil
}
