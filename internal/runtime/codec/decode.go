package codec

import (
	"bytes"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/msgbuf"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Record is a keyed value the encoder can read message fields from. Lookup
// reports false for missing keys.
type Record interface {
	Lookup(name string) (any, bool, error)
}

// List is an indexed value the encoder can read array elements from.
type List interface {
	Len() int
	Index(i int) (any, error)
}

// Codec decodes and encodes messages under one set of Settings.
type Codec struct {
	settings Settings
}

// New returns a codec. Unset modes take their category defaults.
func New(s Settings) *Codec {
	return &Codec{settings: s.Resolved()}
}

// Settings returns the resolved settings.
func (c *Codec) Settings() Settings { return c.settings }

// Decode returns a lazy view of data. Only the fixed part is validated here,
// each field is checked when it is read.
func (c *Codec) Decode(desc *scheme.Message, data []byte) (*Message, error) {
	v := msgbuf.New(data)
	if err := v.Check(0, desc.Size); err != nil {
		return nil, errspkg.Decode("message %s size %d is smaller than %d", desc.Name, len(data), desc.Size)
	}
	return &Message{codec: c, desc: desc, view: v}, nil
}

// Message is a lazily decoded message. It is valid as long as the buffer it
// was decoded from.
type Message struct {
	codec *Codec
	desc  *scheme.Message
	view  msgbuf.View
}

// Desc returns the message definition.
func (m *Message) Desc() *scheme.Message { return m.desc }

// Name returns the message name.
func (m *Message) Name() string { return m.desc.Name }

// Codec returns the codec that decoded the message.
func (m *Message) Codec() *Codec { return m.codec }

// Bytes returns the fixed part of the message.
func (m *Message) Bytes() []byte {
	b, _ := m.view.Slice(0, m.desc.Size)
	return b
}

// Get decodes the named field. Absent optional fields yield nil when the
// presence map is enabled.
func (m *Message) Get(name string) (any, error) {
	f, ok := m.desc.Field(name)
	if !ok {
		return nil, fmt.Errorf("message %q has no field %q", m.desc.Name, name)
	}
	return m.Field(f)
}

// Lookup implements Record.
func (m *Message) Lookup(name string) (any, bool, error) {
	f, ok := m.desc.Field(name)
	if !ok {
		return nil, false, nil
	}
	if f.Optional && m.codec.settings.PMap == PMapEnable {
		present, err := m.pmapBit(f)
		if err != nil || !present {
			return nil, false, err
		}
	}
	v, err := m.Field(f)
	return v, err == nil, err
}

// Field decodes f, which must belong to the message definition.
func (m *Message) Field(f *scheme.Field) (any, error) {
	if f.Optional && m.codec.settings.PMap == PMapEnable {
		present, err := m.pmapBit(f)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
	}
	v, err := m.codec.decodeValue(f, m.view.At(f.Offset))
	if err != nil {
		return nil, errspkg.WithOp("field "+f.Name, err)
	}
	return v, nil
}

// Has reports whether the named field is present. Required fields are always
// present.
func (m *Message) Has(name string) (bool, error) {
	f, ok := m.desc.Field(name)
	if !ok {
		return false, fmt.Errorf("message %q has no field %q", m.desc.Name, name)
	}
	if !f.Optional {
		return true, nil
	}
	return m.pmapBit(f)
}

// Range calls fn for every present field in declaration order.
func (m *Message) Range(fn func(f *scheme.Field, v any) error) error {
	for _, f := range m.desc.Fields {
		v, ok, err := m.Lookup(f.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(f, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) pmapBit(f *scheme.Field) (bool, error) {
	p := m.desc.PMap
	if p == nil || f.PMapIndex < 0 {
		return true, nil
	}
	if p.Type == scheme.Bytes {
		b, err := m.view.Uint8(p.Offset + f.PMapIndex/8)
		if err != nil {
			return false, err
		}
		return b&(1<<(f.PMapIndex%8)) != 0, nil
	}
	v, err := m.view.Uint(p.Offset, p.Size)
	if err != nil {
		return false, err
	}
	return v&(uint64(1)<<f.PMapIndex) != 0, nil
}

// Array is a lazily decoded fixed array or pointer list.
type Array struct {
	codec  *Codec
	field  *scheme.Field
	count  int
	stride int
	data   msgbuf.View
}

// Field returns the array or pointer field the array was decoded from.
func (a *Array) Field() *scheme.Field { return a.field }

func (a *Array) Len() int { return a.count }

// Index decodes element i.
func (a *Array) Index(i int) (any, error) {
	if i < 0 || i >= a.count {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, a.count)
	}
	v, err := a.codec.decodeValue(a.field.Elem, a.data.At(i*a.stride))
	if err != nil {
		return nil, errspkg.WithOp(fmt.Sprintf("index %d", i), err)
	}
	return v, nil
}

func (c *Codec) decodeArray(f *scheme.Field, v msgbuf.View) (*Array, error) {
	n, err := v.Int(0, f.CountField.Size)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > int64(f.Count) {
		return nil, errspkg.Decode("array size %d out of capacity %d", n, f.Count)
	}
	return &Array{codec: c, field: f, count: int(n), stride: f.Elem.Size, data: v.At(f.Elem.Offset)}, nil
}

func (c *Codec) decodePointer(f *scheme.Field, v msgbuf.View) (*Array, error) {
	p, err := msgbuf.ReadPointer(v, 0, f.PtrVersion, f.Elem.Size)
	if err != nil {
		return nil, err
	}
	return &Array{codec: c, field: f, count: p.Count, stride: p.Entity, data: p.Data}, nil
}

func (c *Codec) decodeValue(f *scheme.Field, v msgbuf.View) (any, error) {
	switch f.Type {
	case scheme.Int8, scheme.Int16, scheme.Int32, scheme.Int64,
		scheme.UInt8, scheme.UInt16, scheme.UInt32, scheme.UInt64:
		return c.decodeInteger(f, v)

	case scheme.Double:
		x, err := v.Float64(0)
		if err != nil {
			return nil, err
		}
		if f.SubType == scheme.SubTimePoint {
			return c.timeValue(TimePoint{Res: f.Resolution, Float: true, FTicks: x}, x), nil
		}
		return x, nil

	case scheme.Decimal128:
		lo, err := v.Uint64(0)
		if err != nil {
			return nil, err
		}
		hi, err := v.Uint64(8)
		if err != nil {
			return nil, err
		}
		d := Decimal128{V: primitive.NewDecimal128(hi, lo)}
		switch c.settings.Decimal128 {
		case ModeObject:
			return d, nil
		case ModeString:
			return d.String(), nil
		case ModeInt:
			n, ok := d.Int64()
			if !ok {
				return nil, errspkg.Decode("decimal %s does not fit int64", d)
			}
			return n, nil
		}
		return d.Float64(), nil

	case scheme.Bytes:
		b, err := v.Slice(0, f.Size)
		if err != nil {
			return nil, err
		}
		if f.SubType == scheme.SubByteString {
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
			return string(b), nil
		}
		return append([]byte(nil), b...), nil

	case scheme.TypeMessage:
		if err := v.Check(0, f.TypeMsg.Size); err != nil {
			return nil, err
		}
		return &Message{codec: c, desc: f.TypeMsg, view: v}, nil

	case scheme.Array:
		return c.decodeArray(f, v)

	case scheme.Pointer:
		if f.SubType == scheme.SubByteString {
			p, err := msgbuf.ReadPointer(v, 0, f.PtrVersion, 1)
			if err != nil {
				return nil, err
			}
			if p.Count == 0 {
				return "", nil
			}
			b, err := p.Data.Slice(0, p.Count)
			if err != nil {
				return nil, err
			}
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
			return string(b), nil
		}
		return c.decodePointer(f, v)
	}
	return nil, errspkg.Decode("unsupported field type %s", f.Type)
}

func (c *Codec) decodeInteger(f *scheme.Field, v msgbuf.View) (any, error) {
	var (
		raw  uint64
		sval int64
		err  error
	)
	if f.Type.IsSigned() {
		sval, err = v.Int(0, f.Size)
		raw = uint64(sval)
	} else {
		raw, err = v.Uint(0, f.Size)
		sval = int64(raw)
	}
	if err != nil {
		return nil, err
	}

	switch f.SubType {
	case scheme.SubEnum:
		if _, ok := f.Enum.NameOf(sval); !ok {
			return nil, errspkg.Decode("unknown value %d for enum %s", sval, f.Enum.Name)
		}
		e := Enum{Desc: f.Enum, Value: sval}
		switch c.settings.Enum {
		case ModeInt, ModeFloat:
			return sval, nil
		case ModeString:
			return e.Name(), nil
		}
		return e, nil

	case scheme.SubBits:
		b := Bits{Desc: f.Bits, Value: raw}
		switch c.settings.Bits {
		case ModeInt, ModeFloat:
			return plainInteger(f.Type, sval, raw), nil
		case ModeString:
			return b.String(), nil
		}
		return b, nil

	case scheme.SubFixed:
		if f.Type == scheme.UInt64 && raw > 1<<63-1 {
			return nil, errspkg.Decode("fixed value %d out of range", raw)
		}
		x := Fixed{Mantissa: sval, Precision: f.FixedPrecision}
		switch c.settings.Fixed {
		case ModeInt:
			return sval, nil
		case ModeString:
			return x.String(), nil
		case ModeObject:
			return x, nil
		}
		return x.Float64(), nil

	case scheme.SubTimePoint:
		if f.Type == scheme.UInt64 && raw > 1<<63-1 {
			return nil, errspkg.Decode("time value %d out of range", raw)
		}
		return c.timeValue(TimePoint{Res: f.Resolution, Ticks: sval}, sval), nil
	}
	return plainInteger(f.Type, sval, raw), nil
}

func (c *Codec) timeValue(t TimePoint, raw any) any {
	switch c.settings.Time {
	case ModeInt:
		return raw
	case ModeFloat:
		return t.Seconds()
	case ModeString:
		return t.String()
	}
	return t
}

func plainInteger(t scheme.Type, sval int64, raw uint64) any {
	if t == scheme.UInt64 {
		return raw
	}
	return sval
}

// FixedFromFloat is a helper for tests and scripts that need a handle with a
// given precision from a float.
func FixedFromFloat(x float64, precision int) (Fixed, error) {
	m, e, err := toDecimal(x)
	if err != nil {
		return Fixed{}, err
	}
	raw, err := rescale(m, e, precision, true, OverflowError)
	if err != nil {
		return Fixed{}, err
	}
	if !raw.IsInt64() {
		return Fixed{}, errspkg.Encode("value %v out of range", x)
	}
	return Fixed{Mantissa: raw.Int64(), Precision: precision}, nil
}
