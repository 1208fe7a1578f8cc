// Package scheme holds the immutable message schema model: messages, fields,
// enums and bitsets with their binary layout resolved.
package scheme

import (
	"fmt"
	"sort"
)

// Type is the storage type of a field.
type Type int

const (
	Int8 Type = iota
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Double
	Decimal128
	Bytes
	TypeMessage
	Array
	Pointer
)

var typeNames = map[Type]string{
	Int8:        "int8",
	Int16:       "int16",
	Int32:       "int32",
	Int64:       "int64",
	UInt8:       "uint8",
	UInt16:      "uint16",
	UInt32:      "uint32",
	UInt64:      "uint64",
	Double:      "double",
	Decimal128:  "decimal128",
	Bytes:       "bytes",
	TypeMessage: "message",
	Array:       "array",
	Pointer:     "pointer",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// IsInteger reports whether t is one of the fixed width integer types.
func (t Type) IsInteger() bool { return t >= Int8 && t <= UInt64 }

// IsSigned reports whether t is a signed integer type.
func (t Type) IsSigned() bool { return t >= Int8 && t <= Int64 }

// IntSize returns the width in bytes of an integer or double type.
func (t Type) IntSize() int {
	switch t {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32:
		return 4
	case Int64, UInt64, Double:
		return 8
	case Decimal128:
		return 16
	}
	return 0
}

// SubType refines how a field's storage is interpreted.
type SubType int

const (
	SubNone SubType = iota
	SubEnum
	SubBits
	SubFixed
	SubTimePoint
	SubByteString
)

func (s SubType) String() string {
	switch s {
	case SubEnum:
		return "enum"
	case SubBits:
		return "bits"
	case SubFixed:
		return "fixed"
	case SubTimePoint:
		return "time_point"
	case SubByteString:
		return "string"
	default:
		return ""
	}
}

// PointerVersion selects the offset pointer wire layout.
type PointerVersion int

const (
	// PtrDefault is uint32 offset, uint24 size, uint8 entity.
	PtrDefault PointerVersion = iota
	// PtrLegacyShort is uint16 offset, uint16 size.
	PtrLegacyShort
	// PtrLegacyLong is uint64 offset, uint32 size, uint32 entity.
	PtrLegacyLong
)

// Size returns the number of bytes the pointer header occupies.
func (v PointerVersion) Size() int {
	switch v {
	case PtrLegacyShort:
		return 4
	case PtrLegacyLong:
		return 16
	default:
		return 8
	}
}

func (v PointerVersion) String() string {
	switch v {
	case PtrLegacyShort:
		return "legacy-short"
	case PtrLegacyLong:
		return "legacy-long"
	default:
		return "default"
	}
}

// Resolution is the unit of a time point field: one tick is Num/Den seconds.
type Resolution struct {
	Name string
	Num  int64
	Den  int64
}

var (
	Nanosecond  = Resolution{Name: "ns", Num: 1, Den: 1_000_000_000}
	Microsecond = Resolution{Name: "us", Num: 1, Den: 1_000_000}
	Millisecond = Resolution{Name: "ms", Num: 1, Den: 1_000}
	Second      = Resolution{Name: "s", Num: 1, Den: 1}
	Minute      = Resolution{Name: "minute", Num: 60, Den: 1}
	Hour        = Resolution{Name: "hour", Num: 3600, Den: 1}
	Day         = Resolution{Name: "day", Num: 86400, Den: 1}
)

// ParseResolution maps a resolution option value to a Resolution.
func ParseResolution(s string) (Resolution, bool) {
	switch s {
	case "ns", "nanosecond":
		return Nanosecond, true
	case "us", "microsecond":
		return Microsecond, true
	case "ms", "millisecond":
		return Millisecond, true
	case "s", "second":
		return Second, true
	case "m", "minute":
		return Minute, true
	case "h", "hour":
		return Hour, true
	case "d", "day":
		return Day, true
	}
	return Resolution{}, false
}

// Options is an ordered set of string key/value pairs attached to schema
// objects.
type Options struct {
	keys   []string
	values map[string]string
}

// NewOptions builds Options from alternating key/value pairs.
func NewOptions(pairs ...string) Options {
	var o Options
	for i := 0; i+1 < len(pairs); i += 2 {
		o.set(pairs[i], pairs[i+1])
	}
	return o
}

func (o *Options) set(k, v string) {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	if _, ok := o.values[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.values[k] = v
}

func (o Options) clone() Options {
	var c Options
	for _, k := range o.keys {
		c.set(k, o.values[k])
	}
	return c
}

// Get returns the value of k.
func (o Options) Get(k string) (string, bool) {
	v, ok := o.values[k]
	return v, ok
}

// Keys returns option keys in declaration order.
func (o Options) Keys() []string { return append([]string(nil), o.keys...) }

// Len returns the number of options.
func (o Options) Len() int { return len(o.keys) }

// Map returns a copy of the options as a plain map.
func (o Options) Map() map[string]string {
	m := make(map[string]string, len(o.keys))
	for k, v := range o.values {
		m[k] = v
	}
	return m
}

// EnumValue is one named constant of an enum.
type EnumValue struct {
	Name  string
	Value int64
}

// Enum maps symbolic names to integer values.
type Enum struct {
	Name    string
	Type    Type
	Values  []EnumValue
	Options Options

	byName  map[string]int64
	byValue map[int64]string
}

// Lookup returns the value of the named constant.
func (e *Enum) Lookup(name string) (int64, bool) {
	v, ok := e.byName[name]
	return v, ok
}

// NameOf returns the constant name of v.
func (e *Enum) NameOf(v int64) (string, bool) {
	n, ok := e.byValue[v]
	return n, ok
}

// BitField is one named bit range inside a bitset.
type BitField struct {
	Name   string
	Offset uint
	Size   uint
}

// Mask returns the in-place mask of the bit range.
func (b BitField) Mask() uint64 {
	return ((uint64(1) << b.Size) - 1) << b.Offset
}

// Bits maps symbolic names to bit ranges of an unsigned integer.
type Bits struct {
	Name    string
	Type    Type
	Fields  []BitField
	Options Options

	byName map[string]int
}

// Lookup returns the named bit range.
func (b *Bits) Lookup(name string) (BitField, bool) {
	i, ok := b.byName[name]
	if !ok {
		return BitField{}, false
	}
	return b.Fields[i], true
}

// Field is a typed slot in a message or the element description of an array
// or pointer.
type Field struct {
	Name    string
	Index   int
	Offset  int
	Size    int
	Type    Type
	SubType SubType
	Options Options

	// Optional fields are tracked by bit PMapIndex of the owning message's
	// presence map. PMapIndex is -1 for required fields.
	Optional  bool
	PMapIndex int

	Enum           *Enum
	Bits           *Bits
	FixedPrecision int
	Resolution     Resolution

	// TypeMsg is the sub-message of Message fields.
	TypeMsg *Message

	// Array fields: Count capacity, CountField header, Elem element.
	Count      int
	CountField *Field
	// Elem is the element of Array and Pointer fields.
	Elem       *Field
	PtrVersion PointerVersion

	typeName string
}

// TypeName returns the declared type as written in the schema.
func (f *Field) TypeName() string { return f.typeName }

// IsString reports whether the field is a byte string, either fixed size or
// pointer encoded.
func (f *Field) IsString() bool {
	return f.SubType == SubByteString
}

// Message is a message definition with a resolved layout.
type Message struct {
	Name    string
	MsgID   int32
	Size    int
	Fields  []*Field
	Enums   []*Enum
	Bits    []*Bits
	Options Options

	// PMap is the presence map field, nil when the message has no optional
	// fields.
	PMap *Field

	byName map[string]*Field
}

// Field returns the named field.
func (m *Message) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Scheme is an immutable set of messages plus global enums and bitsets.
type Scheme struct {
	Messages []*Message
	Enums    []*Enum
	Bits     []*Bits
	Aliases  []*Field
	Options  Options

	byName map[string]*Message
	byID   map[int32]*Message
}

// Lookup returns the named message.
func (s *Scheme) Lookup(name string) (*Message, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// LookupID returns the message with the given id. Zero is never a valid id.
func (s *Scheme) LookupID(id int32) (*Message, bool) {
	if id == 0 {
		return nil, false
	}
	m, ok := s.byID[id]
	return m, ok
}

// Enum returns a global enum by name.
func (s *Scheme) Enum(name string) (*Enum, bool) {
	for _, e := range s.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// MessageIDs returns all non-zero message ids in ascending order.
func (s *Scheme) MessageIDs() []int32 {
	ids := make([]int32, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
