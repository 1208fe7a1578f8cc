package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

const testScheme = `
- name: Sub
  fields:
    - {name: s0, type: int8}
    - {name: s1, type: '*int16'}
- name: Msg
  id: 10
  fields:
    - {name: pmap, type: uint8, options.pmap: yes}
    - {name: f0, type: int32, options.optional: yes}
    - {name: f1, type: int32, options.optional: yes}
    - {name: i8, type: int8}
    - {name: u8, type: uint8}
    - {name: e, type: int16, enum: {A: 10, B: 20}}
    - {name: flags, type: uint16, bits: [a, b, {name: c, size: 3}]}
    - {name: px, type: int64, options.type: fixed3}
    - {name: px6, type: int64, options.type: fixed6}
    - {name: us, type: int64, options.type: time_point, options.resolution: us}
    - {name: ms, type: int64, options.type: time_point, options.resolution: ms}
    - {name: day, type: int32, options.type: time_point, options.resolution: day}
    - {name: dts, type: double, options.type: time_point, options.resolution: s}
    - {name: d, type: decimal128}
    - {name: name, type: byte4, options.type: string}
    - {name: raw, type: byte4}
    - {name: str, type: string}
    - {name: list, type: '*int16'}
    - {name: arr, type: 'Sub[2]'}
    - {name: sub, type: Sub}
- name: Str
  id: 20
  fields:
    - {name: str, type: string}
`

func testMessage(t *testing.T, name string) *scheme.Message {
	t.Helper()
	s, err := scheme.Parse([]byte(testScheme))
	require.NoError(t, err)
	m, ok := s.Lookup(name)
	require.True(t, ok)
	return m
}

func roundTrip(t *testing.T, c *Codec, desc *scheme.Message, in map[string]any, field string) (any, error) {
	t.Helper()
	data, err := c.Encode(desc, in)
	if err != nil {
		return nil, err
	}
	m, err := c.Decode(desc, data)
	require.NoError(t, err)
	return m.Get(field)
}

func TestPresets(t *testing.T) {
	s, err := Preset("")
	require.NoError(t, err)
	assert.Equal(t, ModeObject, s.Fixed)

	s, err = Preset("convert-fast")
	require.NoError(t, err)
	assert.Equal(t, ModeInt, s.Enum)
	assert.Equal(t, ModeObject, s.Decimal128)

	_, err = Preset("nope")
	assert.ErrorIs(t, err, errspkg.ErrConfiguration)

	r := Settings{}.Resolved()
	assert.Equal(t, ModeObject, r.Enum)
	assert.Equal(t, ModeFloat, r.Fixed)
	assert.Equal(t, ModeFloat, r.Decimal128)
}

func TestOverflowPolicy(t *testing.T) {
	desc := testMessage(t, "Msg")
	tests := []struct {
		name    string
		field   string
		value   any
		policy  Overflow
		want    any
		wantErr bool
	}{
		{"int8 over max trimmed", "i8", 128, OverflowTrim, int64(127), false},
		{"int8 over max rejected", "i8", 128, OverflowError, nil, true},
		{"int8 under min trimmed", "i8", -129, OverflowTrim, int64(-128), false},
		{"uint8 negative trimmed", "u8", -1, OverflowTrim, int64(0), false},
		{"uint8 negative rejected", "u8", -1, OverflowError, nil, true},
		{"uint8 over max trimmed", "u8", 256.0, OverflowTrim, int64(255), false},
		{"fraction rejected", "i8", 1.5, OverflowTrim, nil, true},
		{"bytes truncated", "raw", "abcdef", OverflowTrim, []byte("abcd"), false},
		{"bytes rejected", "raw", "abcdef", OverflowError, nil, true},
		{"string truncated", "name", "abcdef", OverflowTrim, "abcd", false},
		{"string fits", "name", "ab", OverflowError, "ab", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Settings{Overflow: tt.policy})
			got, err := roundTrip(t, c, desc, map[string]any{tt.field: tt.value}, tt.field)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errspkg.ErrEncode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArrayCapacityAlwaysEnforced(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{Overflow: OverflowTrim})
	_, err := c.Encode(desc, map[string]any{"arr": []any{
		map[string]any{}, map[string]any{}, map[string]any{},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrEncode)
}

func TestFixedPoint(t *testing.T) {
	desc := testMessage(t, "Msg")

	c := New(Settings{Fixed: ModeObject})
	got, err := roundTrip(t, c, desc, map[string]any{"px": 123.456}, "px")
	require.NoError(t, err)
	assert.Equal(t, Fixed{Mantissa: 123456, Precision: 3}, got)
	assert.Equal(t, "123.456", got.(Fixed).String())

	c = New(Settings{Fixed: ModeFloat})
	got, err = roundTrip(t, c, desc, map[string]any{"px": "123.456"}, "px")
	require.NoError(t, err)
	assert.Equal(t, 123.456, got)

	got, err = roundTrip(t, c, desc, map[string]any{"px": 1.23456}, "px")
	require.NoError(t, err)
	assert.Equal(t, 1.235, got)

	got, err = roundTrip(t, c, desc, map[string]any{"px": -0.0005}, "px")
	require.NoError(t, err)
	assert.Equal(t, -0.001, got)

	got, err = roundTrip(t, c, desc, map[string]any{"px": 7}, "px")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	c = New(Settings{Fixed: ModeString})
	got, err = roundTrip(t, c, desc, map[string]any{"px": "0.005"}, "px")
	require.NoError(t, err)
	assert.Equal(t, "0.005", got)

	c = New(Settings{Fixed: ModeInt})
	got, err = roundTrip(t, c, desc, map[string]any{"px": 123456.0}, "px")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), got)
}

func TestFixedPrecisionDelta(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{Fixed: ModeInt})

	got, err := roundTrip(t, c, desc, map[string]any{"px6": Fixed{Mantissa: 123456, Precision: 3}}, "px6")
	require.NoError(t, err)
	assert.Equal(t, int64(123456000), got)

	got, err = roundTrip(t, c, desc, map[string]any{"px": Fixed{Mantissa: 123456000, Precision: 6}}, "px")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), got)

	_, err = roundTrip(t, c, desc, map[string]any{"px": Fixed{Mantissa: 123456789, Precision: 6}}, "px")
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	c = New(Settings{Fixed: ModeInt, Overflow: OverflowTrim})
	got, err = roundTrip(t, c, desc, map[string]any{"px": Fixed{Mantissa: 123456789, Precision: 6}}, "px")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), got)
}

func TestFixedStringDigits(t *testing.T) {
	desc := testMessage(t, "Msg")

	c := New(Settings{Fixed: ModeString})
	_, err := roundTrip(t, c, desc, map[string]any{"px": "1.2345"}, "px")
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	got, err := roundTrip(t, c, desc, map[string]any{"px": "1.2340"}, "px")
	require.NoError(t, err)
	assert.Equal(t, "1.234", got)

	c = New(Settings{Fixed: ModeString, Overflow: OverflowTrim})
	got, err = roundTrip(t, c, desc, map[string]any{"px": "1.2345"}, "px")
	require.NoError(t, err)
	assert.Equal(t, "1.234", got)

	got, err = roundTrip(t, c, desc, map[string]any{"px": "-1.2349"}, "px")
	require.NoError(t, err)
	assert.Equal(t, "-1.234", got)
}

func TestSelfPointer(t *testing.T) {
	s, err := scheme.Parse([]byte("- name: Node\n  id: 1\n  fields:\n    - {name: v, type: int32}\n    - {name: next, type: '*Node'}\n"))
	require.NoError(t, err)
	desc, _ := s.Lookup("Node")
	c := New(Settings{})

	data, err := c.Encode(desc, map[string]any{
		"v":    1,
		"next": []any{map[string]any{"v": 2, "next": []any{map[string]any{"v": 3}}}},
	})
	require.NoError(t, err)

	m, err := c.Decode(desc, data)
	require.NoError(t, err)
	for _, want := range []int64{1, 2, 3} {
		v, err := m.Get("v")
		require.NoError(t, err)
		assert.Equal(t, want, v)
		next, err := m.Get("next")
		require.NoError(t, err)
		if want == 3 {
			assert.Equal(t, 0, next.(*Array).Len())
			break
		}
		require.Equal(t, 1, next.(*Array).Len())
		item, err := next.(*Array).Index(0)
		require.NoError(t, err)
		m = item.(*Message)
	}
}

func TestDecimal128(t *testing.T) {
	desc := testMessage(t, "Msg")

	c := New(Settings{Decimal128: ModeString})
	got, err := roundTrip(t, c, desc, map[string]any{"d": "123.456"}, "d")
	require.NoError(t, err)
	assert.Equal(t, "123.456", got)

	c = New(Settings{})
	got, err = roundTrip(t, c, desc, map[string]any{"d": 1.5}, "d")
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)

	c = New(Settings{Decimal128: ModeObject})
	got, err = roundTrip(t, c, desc, map[string]any{"d": -42}, "d")
	require.NoError(t, err)
	d, ok := got.(Decimal128)
	require.True(t, ok)
	assert.Equal(t, "-42", d.String())
	n, ok := d.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(-42), n)

	_, err = roundTrip(t, c, desc, map[string]any{"d": "x1"}, "d")
	assert.ErrorIs(t, err, errspkg.ErrEncode)
}

func TestTimePointModes(t *testing.T) {
	desc := testMessage(t, "Msg")
	const iso = "2010-01-02T03:04:05.123456"

	c := New(Settings{Time: ModeString})
	got, err := roundTrip(t, c, desc, map[string]any{"us": iso}, "us")
	require.NoError(t, err)
	assert.Equal(t, iso, got)

	c = New(Settings{Time: ModeInt})
	got, err = roundTrip(t, c, desc, map[string]any{"us": iso}, "us")
	require.NoError(t, err)
	assert.Equal(t, int64(1262401445123456), got)

	c = New(Settings{Time: ModeFloat})
	got, err = roundTrip(t, c, desc, map[string]any{"ms": 1262401445.5}, "ms")
	require.NoError(t, err)
	assert.InDelta(t, 1262401445.5, got, 1e-6)

	c = New(Settings{Time: ModeObject})
	got, err = roundTrip(t, c, desc, map[string]any{"day": "2010-01-02"}, "day")
	require.NoError(t, err)
	tp := got.(TimePoint)
	assert.Equal(t, "2010-01-02", tp.String())
	assert.Equal(t, int64(20100102), tp.Date())

	got, err = roundTrip(t, c, desc, map[string]any{"dts": NewTimePoint(2010, 1, 2, 3, 4, 5, 0)}, "dts")
	require.NoError(t, err)
	assert.Equal(t, 1262401445.0, got.(TimePoint).Seconds())
}

func TestTimePointConstructor(t *testing.T) {
	tp := NewTimePoint(2010, 1, 2, 3, 4, 5, 123456789)
	assert.Equal(t, scheme.Nanosecond, tp.Res)
	assert.Equal(t, "2010-01-02T03:04:05.123456789", tp.String())

	ms, err := tp.Convert(scheme.Millisecond, OverflowTrim)
	require.NoError(t, err)
	assert.Equal(t, "2010-01-02T03:04:05.123", ms.String())
	assert.Equal(t, 1, tp.Compare(ms))
	assert.Equal(t, 0, ms.Compare(TimePoint{Res: scheme.Microsecond, Ticks: 1262401445123000}))
}

func TestTimePointResolutionConversion(t *testing.T) {
	desc := testMessage(t, "Msg")
	src := TimePoint{Res: scheme.Microsecond, Ticks: 1262401445123456}

	strict := New(Settings{Time: ModeObject})
	_, err := roundTrip(t, strict, desc, map[string]any{"ms": src}, "ms")
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	trim := New(Settings{Time: ModeObject, Overflow: OverflowTrim})
	got, err := roundTrip(t, trim, desc, map[string]any{"ms": src}, "ms")
	require.NoError(t, err)
	coarse := got.(TimePoint)
	assert.Equal(t, int64(1262401445123), coarse.Ticks)

	got, err = roundTrip(t, trim, desc, map[string]any{"us": coarse}, "us")
	require.NoError(t, err)
	assert.Equal(t, int64(1262401445123000), got.(TimePoint).Ticks)

	got, err = roundTrip(t, strict, desc, map[string]any{"us": TimePoint{Res: scheme.Minute, Ticks: 2}}, "us")
	require.NoError(t, err)
	assert.Equal(t, int64(120_000_000), got.(TimePoint).Ticks)
}

func TestPresenceMap(t *testing.T) {
	desc := testMessage(t, "Msg")
	in := map[string]any{"f0": 10}

	enabled := New(Settings{})
	data, err := enabled.Encode(desc, in)
	require.NoError(t, err)
	m, err := enabled.Decode(desc, data)
	require.NoError(t, err)

	f0, err := m.Get("f0")
	require.NoError(t, err)
	assert.Equal(t, int64(10), f0)
	f1, err := m.Get("f1")
	require.NoError(t, err)
	assert.Nil(t, f1)
	has, err := PMapCheck(m, "f1")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = PMapCheck(m, "f0")
	require.NoError(t, err)
	assert.True(t, has)

	disabled := New(Settings{PMap: PMapDisable})
	m, err = disabled.Decode(desc, data)
	require.NoError(t, err)
	f1, err = m.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f1)
	has, err = PMapCheck(m, "f1")
	require.NoError(t, err)
	assert.False(t, has)

	data, err = enabled.Encode(desc, map[string]any{"f0": 10, "f1": Tombstone})
	require.NoError(t, err)
	m, err = enabled.Decode(desc, data)
	require.NoError(t, err)
	has, err = m.Has("f1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestEnum(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{Enum: ModeObject})

	got, err := roundTrip(t, c, desc, map[string]any{"e": "A"}, "e")
	require.NoError(t, err)
	e := got.(Enum)
	assert.True(t, e.Eq("A"))
	assert.True(t, e.Eq(10))
	assert.False(t, e.Eq("B"))

	got, err = roundTrip(t, New(Settings{Enum: ModeString}), desc, map[string]any{"e": 20.0}, "e")
	require.NoError(t, err)
	assert.Equal(t, "B", got)

	for _, bad := range []any{"C", 15} {
		_, err = c.Encode(desc, map[string]any{"e": bad})
		require.Error(t, err)
		assert.ErrorIs(t, err, errspkg.ErrEncode)
	}

	data, err := c.Encode(desc, map[string]any{"e": "A"})
	require.NoError(t, err)
	f, _ := desc.Field("e")
	data[f.Offset] = 11
	m, err := c.Decode(desc, data)
	require.NoError(t, err)
	_, err = m.Get("e")
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
}

func TestBits(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{Bits: ModeObject})

	got, err := roundTrip(t, c, desc, map[string]any{"flags": "a|c"}, "flags")
	require.NoError(t, err)
	b := got.(Bits)
	assert.Equal(t, uint64(0b11101), b.Value)
	assert.True(t, b.Has("a"))
	assert.False(t, b.Has("b"))
	v, ok := b.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)

	got, err = roundTrip(t, c, desc, map[string]any{"flags": map[string]any{"b": true, "c": 2}}, "flags")
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1010), got.(Bits).Value)
	assert.Equal(t, uint64(0b1000), got.(Bits).And(0b1100).Value)

	_, err = c.Encode(desc, map[string]any{"flags": map[string]any{"c": 8}})
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	got, err = roundTrip(t, New(Settings{Bits: ModeInt}), desc, map[string]any{"flags": 3}, "flags")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestStringPointerWireLayout(t *testing.T) {
	desc := testMessage(t, "Str")
	c := New(Settings{})

	data, err := c.Encode(desc, map[string]any{"str": "ab"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0, 0, 0, 0x03, 0, 0, 0x01, 'a', 'b', 0}, data)

	m, err := c.Decode(desc, data)
	require.NoError(t, err)
	s, err := m.Get("str")
	require.NoError(t, err)
	assert.Equal(t, "ab", s)

	data, err = c.Encode(desc, map[string]any{"str": ""})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), data)
}

func nestedInput() map[string]any {
	return map[string]any{
		"i8":   5,
		"e":    "A",
		"list": []any{5, 6, 7},
		"arr": []any{
			map[string]any{"s0": 1, "s1": []any{1, 2}},
			map[string]any{"s0": 2},
		},
		"sub": map[string]any{"s0": 3, "s1": []any{9}},
	}
}

func TestNestedStructures(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{})
	data, err := c.Encode(desc, nestedInput())
	require.NoError(t, err)
	m, err := c.Decode(desc, data)
	require.NoError(t, err)

	list, err := m.Get("list")
	require.NoError(t, err)
	require.Equal(t, 3, list.(*Array).Len())
	x, err := list.(*Array).Index(2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), x)

	arr, err := m.Get("arr")
	require.NoError(t, err)
	require.Equal(t, 2, arr.(*Array).Len())
	first, err := arr.(*Array).Index(0)
	require.NoError(t, err)
	s1, err := first.(*Message).Get("s1")
	require.NoError(t, err)
	y, err := s1.(*Array).Index(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), y)

	again, err := c.Encode(desc, m)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	other := testMessage(t, "Msg")
	reencoded, err := c.Encode(other, m)
	require.NoError(t, err)
	require.NoError(t, c.Validate(other, reencoded))
}

func TestDeepCopyDoesNotAlias(t *testing.T) {
	desc := testMessage(t, "Msg")
	c := New(Settings{})
	data, err := c.Encode(desc, nestedInput())
	require.NoError(t, err)
	m, err := c.Decode(desc, data)
	require.NoError(t, err)

	deep, err := DeepCopy(m)
	require.NoError(t, err)
	shallow, err := Copy(m)
	require.NoError(t, err)

	copied := deep.(map[string]any)
	copied["arr"].([]any)[0].(map[string]any)["s0"] = int64(99)
	arr, _ := m.Get("arr")
	first, _ := arr.(*Array).Index(0)
	s0, err := first.(*Message).Get("s0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s0)

	i8, _ := desc.Field("i8")
	sub, _ := desc.Field("sub")
	data[i8.Offset] = 42
	data[sub.Offset] = 43

	assert.Equal(t, int64(5), copied["i8"])
	assert.Equal(t, int64(3), copied["sub"].(map[string]any)["s0"])
	assert.Equal(t, int64(5), shallow["i8"])
	nested, err := shallow["sub"].(*Message).Get("s0")
	require.NoError(t, err)
	assert.Equal(t, int64(43), nested)
}

func TestOutOfBoundsIsDecodeError(t *testing.T) {
	desc := testMessage(t, "Str")
	c := New(Settings{})
	data, err := c.Encode(desc, map[string]any{"str": "abc"})
	require.NoError(t, err)
	broken := data[:9]

	m, err := c.Decode(desc, broken)
	require.NoError(t, err)
	_, err = m.Get("str")
	assert.ErrorIs(t, err, errspkg.ErrDecode)

	_, err = DeepCopy(m)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
	assert.ErrorIs(t, c.Validate(desc, broken), errspkg.ErrDecode)

	_, err = c.Decode(desc, data[:4])
	assert.ErrorIs(t, err, errspkg.ErrDecode)
}

func TestRawBody(t *testing.T) {
	desc := testMessage(t, "Str")
	c := New(Settings{})

	_, err := c.Encode(desc, []byte{1, 2})
	assert.ErrorIs(t, err, errspkg.ErrEncode)

	body := make([]byte, 8)
	out, err := c.Encode(desc, string(body))
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestUnknownFieldAccess(t *testing.T) {
	desc := testMessage(t, "Str")
	c := New(Settings{})
	m, err := c.Decode(desc, make([]byte, 8))
	require.NoError(t, err)
	_, err = m.Get("missing")
	assert.EqualError(t, err, `message "Str" has no field "missing"`)
}
