package codec

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/msgbuf"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// MapRecord adapts a Go map to Record. Nil values count as missing.
type MapRecord map[string]any

func (r MapRecord) Lookup(name string) (any, bool, error) {
	v, ok := r[name]
	return v, ok && v != nil, nil
}

// SliceList adapts a Go slice to List.
type SliceList []any

func (l SliceList) Len() int                 { return len(l) }
func (l SliceList) Index(i int) (any, error) { return l[i], nil }

// Encode builds the binary form of desc from v: a Record, a map, a decoded
// *Message or a raw string/[]byte body.
func (c *Codec) Encode(desc *scheme.Message, v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return c.rawBody(desc, x)
	case string:
		return c.rawBody(desc, []byte(x))
	case *Message:
		if x.desc == desc && x.view.Offset() == 0 {
			return append([]byte(nil), x.view.Buffer()...), nil
		}
	}
	b := msgbuf.NewBuilder(desc.Size)
	if err := c.encodeMessage(b, 0, desc, v); err != nil {
		return nil, errspkg.WithOp("encode "+desc.Name, err)
	}
	return b.Bytes(), nil
}

func (c *Codec) rawBody(desc *scheme.Message, data []byte) ([]byte, error) {
	if len(data) < desc.Size {
		return nil, errspkg.Encode("message %s body of %d bytes is smaller than %d", desc.Name, len(data), desc.Size)
	}
	return append([]byte(nil), data...), nil
}

func asRecord(v any) (Record, error) {
	switch x := v.(type) {
	case Record:
		return x, nil
	case map[string]any:
		return MapRecord(x), nil
	}
	return nil, errspkg.Encode("expected record, got %s", typeName(v))
}

func asList(v any) (List, error) {
	switch x := v.(type) {
	case List:
		return x, nil
	case []any:
		return SliceList(x), nil
	}
	return nil, errspkg.Encode("expected list, got %s", typeName(v))
}

func (c *Codec) encodeMessage(b *msgbuf.Builder, off int, desc *scheme.Message, v any) error {
	rec, err := asRecord(v)
	if err != nil {
		return err
	}
	var pmap []int
	for _, f := range desc.Fields {
		val, ok, err := rec.Lookup(f.Name)
		if err != nil {
			return errspkg.WithOp("field "+f.Name, err)
		}
		if !ok || IsTombstone(val) {
			continue
		}
		if err := c.encodeValue(b, off+f.Offset, f, val); err != nil {
			return errspkg.WithOp("field "+f.Name, err)
		}
		if f.Optional {
			pmap = append(pmap, f.PMapIndex)
		}
	}
	if p := desc.PMap; p != nil {
		for _, i := range pmap {
			setPMapBit(b, off+p.Offset, p, i)
		}
	}
	return nil
}

func setPMapBit(b *msgbuf.Builder, off int, p *scheme.Field, i int) {
	view := b.View()
	if p.Type == scheme.Bytes {
		cur, _ := view.Uint8(off + i/8)
		b.PutUint8(off+i/8, cur|1<<(i%8))
		return
	}
	cur, _ := view.Uint(off, p.Size)
	b.PutUint(off, p.Size, cur|uint64(1)<<i)
}

func (c *Codec) encodeValue(b *msgbuf.Builder, off int, f *scheme.Field, v any) error {
	switch f.Type {
	case scheme.Int8, scheme.Int16, scheme.Int32, scheme.Int64,
		scheme.UInt8, scheme.UInt16, scheme.UInt32, scheme.UInt64:
		n, err := c.integerValue(f, v)
		if err != nil {
			return err
		}
		return putInt(b, off, f.Type, n, c.settings.Overflow)

	case scheme.Double:
		if f.SubType == scheme.SubTimePoint {
			x, err := c.timeFloat(f, v)
			if err != nil {
				return err
			}
			b.PutFloat64(off, x)
			return nil
		}
		x, err := toFloat(v)
		if err != nil {
			return err
		}
		b.PutFloat64(off, x)
		return nil

	case scheme.Decimal128:
		d, err := toDecimal128(v)
		if err != nil {
			return err
		}
		hi, lo := d.V.GetBytes()
		b.PutUint64(off, lo)
		b.PutUint64(off+8, hi)
		return nil

	case scheme.Bytes:
		data, err := bytesValue(v)
		if err != nil {
			return err
		}
		if len(data) > f.Size {
			if c.settings.Overflow != OverflowTrim {
				return errspkg.Encode("%d bytes do not fit %d byte field", len(data), f.Size)
			}
			data = data[:f.Size]
		}
		b.Copy(off, data)
		return nil

	case scheme.TypeMessage:
		return c.encodeMessage(b, off, f.TypeMsg, v)

	case scheme.Array:
		list, err := asList(v)
		if err != nil {
			return err
		}
		n := list.Len()
		if n > f.Count {
			return errspkg.Encode("array of %d elements exceeds capacity %d", n, f.Count)
		}
		b.PutUint(off, f.CountField.Size, uint64(n))
		for i := 0; i < n; i++ {
			item, err := list.Index(i)
			if err != nil {
				return err
			}
			if err := c.encodeValue(b, off+f.Elem.Offset+i*f.Elem.Size, f.Elem, item); err != nil {
				return errspkg.WithOp(fmt.Sprintf("index %d", i), err)
			}
		}
		return nil

	case scheme.Pointer:
		if f.SubType == scheme.SubByteString {
			data, err := bytesValue(v)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				_, err := b.AllocPointer(off, f.PtrVersion, 0, 1)
				return err
			}
			at, err := b.AllocPointer(off, f.PtrVersion, len(data)+1, 1)
			if err != nil {
				return err
			}
			b.Copy(at, data)
			return nil
		}
		list, err := asList(v)
		if err != nil {
			return err
		}
		n := list.Len()
		at, err := b.AllocPointer(off, f.PtrVersion, n, f.Elem.Size)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			item, err := list.Index(i)
			if err != nil {
				return err
			}
			if err := c.encodeValue(b, at+i*f.Elem.Size, f.Elem, item); err != nil {
				return errspkg.WithOp(fmt.Sprintf("index %d", i), err)
			}
		}
		return nil
	}
	return errspkg.Encode("unsupported field type %s", f.Type)
}

func bytesValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	}
	return nil, errspkg.Encode("expected string, got %s", typeName(v))
}

func (c *Codec) integerValue(f *scheme.Field, v any) (integer, error) {
	switch f.SubType {
	case scheme.SubEnum:
		return enumValue(f.Enum, v)
	case scheme.SubBits:
		return bitsValue(f.Bits, v)
	case scheme.SubFixed:
		return c.fixedValue(f, v)
	case scheme.SubTimePoint:
		return c.timeTicks(f, v)
	}
	return toInteger(v)
}

func enumValue(e *scheme.Enum, v any) (integer, error) {
	switch x := v.(type) {
	case string:
		n, ok := e.Lookup(x)
		if !ok {
			return integer{}, errspkg.Encode("unknown name %q for enum %s", x, e.Name)
		}
		return fromInt64(n), nil
	case Enum:
		if x.Desc == e {
			return fromInt64(x.Value), nil
		}
		return enumValue(e, x.Name())
	}
	n, err := toInteger(v)
	if err != nil {
		return integer{}, err
	}
	for _, ev := range e.Values {
		if n.equalInt64(ev.Value) {
			return n, nil
		}
	}
	return integer{}, errspkg.Encode("unknown value %s for enum %s", n, e.Name)
}

func bitsValue(desc *scheme.Bits, v any) (integer, error) {
	switch x := v.(type) {
	case Bits:
		return integer{mag: x.Value}, nil
	case string:
		var out uint64
		for _, name := range strings.Split(x, "|") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			bf, ok := desc.Lookup(name)
			if !ok {
				return integer{}, errspkg.Encode("unknown bit %q in %s", name, desc.Name)
			}
			out |= bf.Mask()
		}
		return integer{mag: out}, nil
	case []any:
		return bitsValue(desc, SliceList(x))
	case List:
		var out uint64
		for i := 0; i < x.Len(); i++ {
			item, err := x.Index(i)
			if err != nil {
				return integer{}, err
			}
			name, ok := item.(string)
			if !ok {
				return integer{}, errspkg.Encode("expected bit name, got %s", typeName(item))
			}
			bf, ok := desc.Lookup(name)
			if !ok {
				return integer{}, errspkg.Encode("unknown bit %q in %s", name, desc.Name)
			}
			out |= bf.Mask()
		}
		return integer{mag: out}, nil
	case map[string]any, Record:
		rec, _ := asRecord(x)
		var out uint64
		for _, bf := range desc.Fields {
			val, ok, err := rec.Lookup(bf.Name)
			if err != nil {
				return integer{}, err
			}
			if !ok {
				continue
			}
			if flag, isBool := val.(bool); isBool {
				if flag {
					out |= bf.Mask()
				}
				continue
			}
			n, err := toInteger(val)
			if err != nil {
				return integer{}, errspkg.WithOp("bit "+bf.Name, err)
			}
			if n.neg || n.big || n.mag > bf.Mask()>>bf.Offset {
				return integer{}, errspkg.Encode("value %s does not fit bit %s of width %d", n, bf.Name, bf.Size)
			}
			out |= n.mag << bf.Offset
		}
		return integer{mag: out}, nil
	}
	return toInteger(v)
}

func (c *Codec) fixedValue(f *scheme.Field, v any) (integer, error) {
	round := true
	switch v.(type) {
	case Fixed, Decimal128, string:
		round = false
	default:
		if c.settings.Fixed == ModeInt {
			return toInteger(v)
		}
	}
	m, exp, err := toDecimal(v)
	if err != nil {
		return integer{}, err
	}
	raw, err := rescale(m, exp, f.FixedPrecision, round, c.settings.Overflow)
	if err != nil {
		return integer{}, err
	}
	return fromBig(raw), nil
}

func (c *Codec) timeTicks(f *scheme.Field, v any) (integer, error) {
	if _, isTime := v.(TimePoint); !isTime && c.settings.Time == ModeInt {
		if _, isString := v.(string); !isString {
			return toInteger(v)
		}
	}
	secs, err := timeSeconds(v)
	if err != nil {
		return integer{}, err
	}
	ticks, err := ratToTicks(secs, f.Resolution, c.settings.Overflow)
	if err != nil {
		return integer{}, err
	}
	return fromBig(ticks), nil
}

func (c *Codec) timeFloat(f *scheme.Field, v any) (float64, error) {
	if _, isTime := v.(TimePoint); !isTime && c.settings.Time == ModeInt {
		if _, isString := v.(string); !isString {
			return toFloat(v)
		}
	}
	secs, err := timeSeconds(v)
	if err != nil {
		return 0, err
	}
	secs.Mul(secs, ratOf(f.Resolution.Den, f.Resolution.Num))
	x, _ := secs.Float64()
	return x, nil
}

func toDecimal128(v any) (Decimal128, error) {
	switch x := v.(type) {
	case Decimal128:
		return x, nil
	case string:
		d, err := ParseDecimal128(x)
		if err != nil {
			return Decimal128{}, errspkg.Encode("invalid decimal %q", x)
		}
		return d, nil
	}
	m, exp, err := toDecimal(v)
	if err != nil {
		return Decimal128{}, err
	}
	d, ok := decimalFromBig(m, exp)
	if !ok {
		return Decimal128{}, errspkg.Encode("value %se%d does not fit decimal128", m, exp)
	}
	return d, nil
}
