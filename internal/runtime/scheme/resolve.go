package scheme

import (
	"math"
	"strconv"
	"strings"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

const (
	stateNew = iota
	stateResolving
	stateDone
)

type resolver struct {
	scheme  *Scheme
	raw     map[string]*rawMessage
	state   map[string]int
	enums   map[string]*Enum
	bits    map[string]*Bits
	aliases map[string]*rawField
	// linked are message elements of pointers, sized after resolution.
	linked []*Field
}

func resolve(raw *rawScheme) (*Scheme, error) {
	r := &resolver{
		scheme: &Scheme{
			Options: raw.options,
			byName:  make(map[string]*Message),
			byID:    make(map[int32]*Message),
		},
		raw:     make(map[string]*rawMessage),
		state:   make(map[string]int),
		enums:   make(map[string]*Enum),
		bits:    make(map[string]*Bits),
		aliases: make(map[string]*rawField),
	}

	for _, re := range raw.enums {
		e, err := buildEnum(re)
		if err != nil {
			return nil, err
		}
		if _, dup := r.enums[e.Name]; dup {
			return nil, errspkg.Config("enum "+e.Name, "duplicate enum name")
		}
		r.enums[e.Name] = e
		r.scheme.Enums = append(r.scheme.Enums, e)
	}
	for _, rb := range raw.bits {
		b, err := buildBits(rb)
		if err != nil {
			return nil, err
		}
		if _, dup := r.bits[b.Name]; dup {
			return nil, errspkg.Config("bits "+b.Name, "duplicate bits name")
		}
		r.bits[b.Name] = b
		r.scheme.Bits = append(r.scheme.Bits, b)
	}
	for _, a := range raw.aliases {
		if _, dup := r.aliases[a.name]; dup {
			return nil, errspkg.Config("alias "+a.name, "duplicate alias name")
		}
		r.aliases[a.name] = a
	}

	for _, rm := range raw.messages {
		if _, dup := r.raw[rm.name]; dup {
			return nil, errspkg.Config("message "+rm.name, "duplicate message name")
		}
		r.raw[rm.name] = rm
		m := &Message{Name: rm.name, MsgID: rm.id, Options: rm.options, byName: make(map[string]*Field)}
		r.scheme.byName[rm.name] = m
		r.scheme.Messages = append(r.scheme.Messages, m)
		if rm.id != 0 {
			if prev, dup := r.scheme.byID[rm.id]; dup {
				return nil, errspkg.Config("message "+rm.name, "duplicate message id %d (also used by %q)", rm.id, prev.Name)
			}
			r.scheme.byID[rm.id] = m
		}
	}

	for _, a := range raw.aliases {
		f, err := r.buildField(nil, a.name, a.typ, a, 0)
		if err != nil {
			return nil, errspkg.WithOp("alias "+a.name, err)
		}
		r.scheme.Aliases = append(r.scheme.Aliases, f)
	}

	for _, rm := range raw.messages {
		if err := r.resolveMessage(rm.name); err != nil {
			return nil, err
		}
	}
	for _, f := range r.linked {
		f.Size = f.TypeMsg.Size
	}
	return r.scheme, nil
}

func (r *resolver) resolveMessage(name string) error {
	switch r.state[name] {
	case stateDone:
		return nil
	case stateResolving:
		return errspkg.Config("message "+name, "recursive by-value reference")
	}
	r.state[name] = stateResolving

	rm := r.raw[name]
	m := r.scheme.byName[name]

	for _, re := range rm.enums {
		e, err := buildEnum(re)
		if err != nil {
			return errspkg.WithOp("message "+name, err)
		}
		for _, prev := range m.Enums {
			if prev.Name == e.Name {
				return errspkg.Config("message "+name, "duplicate enum %q", e.Name)
			}
		}
		m.Enums = append(m.Enums, e)
	}
	for _, rb := range rm.bits {
		b, err := buildBits(rb)
		if err != nil {
			return errspkg.WithOp("message "+name, err)
		}
		for _, prev := range m.Bits {
			if prev.Name == b.Name {
				return errspkg.Config("message "+name, "duplicate bits %q", b.Name)
			}
		}
		m.Bits = append(m.Bits, b)
	}

	offset := 0
	for i, rf := range rm.fields {
		if _, dup := m.byName[rf.name]; dup {
			return errspkg.Config("message "+name, "duplicate field %q", rf.name)
		}
		f, err := r.buildField(m, rf.name, rf.typ, rf, 0)
		if err != nil {
			return errspkg.WithOp("message "+name+" field "+rf.name, err)
		}
		f.Index = i
		f.Offset = offset
		offset += f.Size
		m.Fields = append(m.Fields, f)
		m.byName[f.Name] = f
	}
	m.Size = offset

	if err := assignPMap(m); err != nil {
		return err
	}

	r.state[name] = stateDone
	return nil
}

func assignPMap(m *Message) error {
	optional := 0
	for _, f := range m.Fields {
		f.PMapIndex = -1
		pmap := optionFlag(f.Options, "pmap")
		f.Optional = optionFlag(f.Options, "optional")
		if pmap {
			if m.PMap != nil {
				return errspkg.Config("message "+m.Name, "more than one pmap field: %q and %q", m.PMap.Name, f.Name)
			}
			if !f.Type.IsInteger() && f.Type != Bytes {
				return errspkg.Config("message "+m.Name, "pmap field %q must be an integer or bytes", f.Name)
			}
			if f.Optional {
				return errspkg.Config("message "+m.Name, "pmap field %q can not be optional", f.Name)
			}
			m.PMap = f
		}
		if f.Optional {
			f.PMapIndex = optional
			optional++
		}
	}
	if optional == 0 {
		return nil
	}
	if m.PMap == nil {
		return errspkg.Config("message "+m.Name, "%d optional fields without pmap field", optional)
	}
	if m.PMap.Size*8 < optional {
		return errspkg.Config("message "+m.Name, "pmap field %q has %d bits for %d optional fields", m.PMap.Name, m.PMap.Size*8, optional)
	}
	return nil
}

func optionFlag(o Options, key string) bool {
	v, ok := o.Get(key)
	return ok && truthy(v)
}

// buildField resolves a type expression. Element fields of arrays and
// pointers inherit the outer options so sub-type annotations reach the
// element.
func (r *resolver) buildField(m *Message, name, typ string, rf *rawField, depth int) (*Field, error) {
	if depth > 16 {
		return nil, errspkg.Config("", "type %q nests too deep", typ)
	}
	f := &Field{Name: name, typeName: typ, PMapIndex: -1}
	if rf != nil {
		f.Options = rf.options
	}

	switch {
	case strings.HasPrefix(typ, "*"):
		elem, err := r.pointerElem(m, name, typ[1:], stripInline(rf), depth+1)
		if err != nil {
			return nil, err
		}
		f.Type = Pointer
		f.Elem = elem
		v, err := pointerVersion(f.Options)
		if err != nil {
			return nil, err
		}
		f.PtrVersion = v
		f.Size = v.Size()
		return f, nil

	case strings.HasSuffix(typ, "]"):
		open := strings.LastIndexByte(typ, '[')
		if open <= 0 {
			return nil, errspkg.Config("", "invalid array type %q", typ)
		}
		count, err := strconv.Atoi(typ[open+1 : len(typ)-1])
		if err != nil || count <= 0 {
			return nil, errspkg.Config("", "invalid array size in %q", typ)
		}
		elem, err := r.buildField(m, name, typ[:open], stripInline(rf), depth+1)
		if err != nil {
			return nil, err
		}
		f.Type = Array
		f.Count = count
		f.CountField = countField(count)
		f.Elem = elem
		elem.Offset = f.CountField.Size
		f.Size = f.CountField.Size + count*elem.Size
		return f, nil

	case typ == "string":
		f.Type = Pointer
		f.SubType = SubByteString
		v, err := pointerVersion(f.Options)
		if err != nil {
			return nil, err
		}
		f.PtrVersion = v
		f.Size = v.Size()
		f.Elem = &Field{Name: name, Type: Int8, Size: 1, PMapIndex: -1, typeName: "int8"}
		return f, nil

	case strings.HasPrefix(typ, "byte"):
		if n, err := strconv.Atoi(typ[4:]); err == nil {
			if n <= 0 {
				return nil, errspkg.Config("", "invalid bytes size in %q", typ)
			}
			f.Type = Bytes
			f.Size = n
			return f, applySubType(f, rf)
		}
	}

	if t, ok := baseTypes[typ]; ok {
		f.Type = t
		f.Size = t.IntSize()
		if rf != nil && rf.enum != nil {
			re := *rf.enum
			re.typ = typ
			e, err := buildEnum(&re)
			if err != nil {
				return nil, err
			}
			f.SubType, f.Enum = SubEnum, e
			return f, nil
		}
		if rf != nil && rf.bits != nil {
			rb := *rf.bits
			rb.typ = typ
			b, err := buildBits(&rb)
			if err != nil {
				return nil, err
			}
			f.SubType, f.Bits = SubBits, b
			return f, nil
		}
		return f, applySubType(f, rf)
	}

	if e := r.lookupEnum(m, typ); e != nil {
		f.Type, f.Size, f.SubType, f.Enum = e.Type, e.Type.IntSize(), SubEnum, e
		return f, nil
	}
	if b := r.lookupBits(m, typ); b != nil {
		f.Type, f.Size, f.SubType, f.Bits = b.Type, b.Type.IntSize(), SubBits, b
		return f, nil
	}
	if a, ok := r.aliases[typ]; ok {
		merged := &rawField{name: name, typ: a.typ, enum: a.enum, bits: a.bits, options: a.options.clone()}
		if rf != nil {
			for _, k := range rf.options.keys {
				merged.options.set(k, rf.options.values[k])
			}
		}
		af, err := r.buildField(m, name, a.typ, merged, depth+1)
		if err != nil {
			return nil, err
		}
		af.typeName = typ
		return af, nil
	}
	if _, ok := r.raw[typ]; ok {
		if err := r.resolveMessage(typ); err != nil {
			return nil, err
		}
		sub := r.scheme.byName[typ]
		f.Type = TypeMessage
		f.TypeMsg = sub
		f.Size = sub.Size
		return f, nil
	}
	return nil, errspkg.Config("", "unknown type %q", typ)
}

// pointerElem builds the element of a pointer field. A message element is
// only linked, not resolved, so messages may point to themselves or to a
// message that embeds them.
func (r *resolver) pointerElem(m *Message, name, typ string, rf *rawField, depth int) (*Field, error) {
	if !r.isMessage(m, typ) {
		return r.buildField(m, name, typ, rf, depth)
	}
	f := &Field{Name: name, typeName: typ, PMapIndex: -1, Type: TypeMessage, TypeMsg: r.scheme.byName[typ]}
	if rf != nil {
		f.Options = rf.options
	}
	r.linked = append(r.linked, f)
	return f, nil
}

// isMessage reports whether typ names a message rather than a base type,
// enum, bits or alias, following the lookup order of buildField.
func (r *resolver) isMessage(m *Message, typ string) bool {
	if _, ok := r.raw[typ]; !ok {
		return false
	}
	if _, ok := baseTypes[typ]; ok {
		return false
	}
	if _, ok := r.aliases[typ]; ok {
		return false
	}
	return r.lookupEnum(m, typ) == nil && r.lookupBits(m, typ) == nil
}

var baseTypes = map[string]Type{
	"int8":       Int8,
	"int16":      Int16,
	"int32":      Int32,
	"int64":      Int64,
	"uint8":      UInt8,
	"uint16":     UInt16,
	"uint32":     UInt32,
	"uint64":     UInt64,
	"double":     Double,
	"decimal128": Decimal128,
}

func stripInline(rf *rawField) *rawField {
	if rf == nil {
		return nil
	}
	return &rawField{name: rf.name, typ: rf.typ, options: rf.options, enum: rf.enum, bits: rf.bits}
}

func (r *resolver) lookupEnum(m *Message, name string) *Enum {
	if m != nil {
		for _, e := range m.Enums {
			if e.Name == name {
				return e
			}
		}
	}
	return r.enums[name]
}

func (r *resolver) lookupBits(m *Message, name string) *Bits {
	if m != nil {
		for _, b := range m.Bits {
			if b.Name == name {
				return b
			}
		}
	}
	return r.bits[name]
}

func applySubType(f *Field, rf *rawField) error {
	sub, ok := f.Options.Get("type")
	if !ok {
		return nil
	}
	switch {
	case sub == "string":
		if f.Type != Bytes {
			return errspkg.Config("", "string sub type on %s field", f.Type)
		}
		f.SubType = SubByteString
	case strings.HasPrefix(sub, "fixed"):
		if !f.Type.IsInteger() {
			return errspkg.Config("", "fixed sub type on %s field", f.Type)
		}
		prec, err := strconv.Atoi(strings.TrimPrefix(sub, "fixed"))
		if err != nil || prec < 0 || prec > 18 {
			return errspkg.Config("", "invalid fixed precision %q", sub)
		}
		f.SubType = SubFixed
		f.FixedPrecision = prec
	case sub == "time_point":
		if !f.Type.IsInteger() && f.Type != Double {
			return errspkg.Config("", "time_point sub type on %s field", f.Type)
		}
		res, ok := f.Options.Get("resolution")
		if !ok {
			return errspkg.Config("", "time_point field without resolution")
		}
		r, ok := ParseResolution(res)
		if !ok {
			return errspkg.Config("", "unknown time resolution %q", res)
		}
		f.SubType = SubTimePoint
		f.Resolution = r
	}
	return nil
}

func pointerVersion(o Options) (PointerVersion, error) {
	v, ok := o.Get("offset-ptr-type")
	if !ok {
		return PtrDefault, nil
	}
	switch v {
	case "default", "":
		return PtrDefault, nil
	case "legacy-short":
		return PtrLegacyShort, nil
	case "legacy-long":
		return PtrLegacyLong, nil
	}
	return PtrDefault, errspkg.Config("", "unknown offset-ptr-type %q", v)
}

func countField(count int) *Field {
	f := &Field{Name: "count", PMapIndex: -1}
	switch {
	case count <= math.MaxInt8:
		f.Type, f.Size, f.typeName = Int8, 1, "int8"
	case count <= math.MaxInt16:
		f.Type, f.Size, f.typeName = Int16, 2, "int16"
	default:
		f.Type, f.Size, f.typeName = Int32, 4, "int32"
	}
	return f
}

func buildEnum(re *rawEnum) (*Enum, error) {
	t, ok := baseTypes[re.typ]
	if !ok || !t.IsInteger() {
		return nil, errspkg.Config("enum "+re.name, "invalid enum type %q", re.typ)
	}
	lo, hi := IntRange(t)
	e := &Enum{
		Name:    re.name,
		Type:    t,
		Options: re.options,
		byName:  make(map[string]int64, len(re.values)),
		byValue: make(map[int64]string, len(re.values)),
	}
	for _, v := range re.values {
		if _, dup := e.byName[v.Name]; dup {
			return nil, errspkg.Config("enum "+re.name, "duplicate name %q", v.Name)
		}
		if prev, dup := e.byValue[v.Value]; dup {
			return nil, errspkg.Config("enum "+re.name, "duplicate value %d for %q and %q", v.Value, prev, v.Name)
		}
		if t.IsSigned() && (v.Value < lo || v.Value > hi) {
			return nil, errspkg.Config("enum "+re.name, "value %s=%d out of %s range", v.Name, v.Value, t)
		}
		if !t.IsSigned() && (v.Value < 0 || (t != UInt64 && uint64(v.Value) > uint64(hi))) {
			return nil, errspkg.Config("enum "+re.name, "value %s=%d out of %s range", v.Name, v.Value, t)
		}
		e.byName[v.Name] = v.Value
		e.byValue[v.Value] = v.Name
		e.Values = append(e.Values, v)
	}
	return e, nil
}

func buildBits(rb *rawBits) (*Bits, error) {
	t, ok := baseTypes[rb.typ]
	if !ok || !t.IsInteger() {
		return nil, errspkg.Config("bits "+rb.name, "invalid bits type %q", rb.typ)
	}
	width := uint(t.IntSize() * 8)
	b := &Bits{Name: rb.name, Type: t, Options: rb.options, byName: make(map[string]int)}
	var used uint64
	var next uint
	for _, rbit := range rb.fields {
		off := next
		if rbit.offset != nil {
			off = *rbit.offset
		}
		if off+rbit.size > width {
			return nil, errspkg.Config("bits "+rb.name, "bit %q (offset %d, size %d) exceeds %d bits", rbit.name, off, rbit.size, width)
		}
		bf := BitField{Name: rbit.name, Offset: off, Size: rbit.size}
		if used&bf.Mask() != 0 {
			return nil, errspkg.Config("bits "+rb.name, "bit %q overlaps bits %#x", rbit.name, used&bf.Mask())
		}
		if _, dup := b.byName[rbit.name]; dup {
			return nil, errspkg.Config("bits "+rb.name, "duplicate bit %q", rbit.name)
		}
		used |= bf.Mask()
		b.byName[bf.Name] = len(b.Fields)
		b.Fields = append(b.Fields, bf)
		next = off + rbit.size
	}
	return b, nil
}

// IntRange returns the signed bounds of an integer type. For unsigned types
// hi is the maximum clamped to MaxInt64; use UintMax for the exact value.
func IntRange(t Type) (lo, hi int64) {
	switch t {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	case UInt8:
		return 0, math.MaxUint8
	case UInt16:
		return 0, math.MaxUint16
	case UInt32:
		return 0, math.MaxUint32
	case UInt64:
		return 0, math.MaxInt64
	}
	return 0, 0
}

// UintMax returns the maximum value of an unsigned type.
func UintMax(t Type) uint64 {
	n := t.IntSize() * 8
	if n >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << n) - 1
}
