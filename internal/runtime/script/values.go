package script

import (
	"fmt"
	"math/big"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/codec"
)

const (
	enumType      = "luaflow.enum"
	bitsType      = "luaflow.bits"
	fixedType     = "luaflow.fixed"
	decimalType   = "luaflow.decimal128"
	timeType      = "luaflow.time_point"
	messageType   = "luaflow.message"
	arrayType     = "luaflow.array"
	tombstoneType = "luaflow.tombstone"
	wideType      = "luaflow.int64"
)

func (c *Context) newUD(L *lua.LState, v any, typ string) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(typ))
	return ud
}

func (c *Context) meta(typ string, index lua.LGFunction, extra map[string]lua.LGFunction) {
	mt := c.L.NewTypeMetatable(typ)
	if index != nil {
		c.L.SetField(mt, "__index", c.L.NewFunction(index))
	}
	for k, fn := range extra {
		c.L.SetField(mt, k, c.L.NewFunction(fn))
	}
}

func method(L *lua.LState, fn lua.LGFunction) int {
	L.Push(L.NewFunction(fn))
	return 1
}

func tostring(s string) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(s))
		return 1
	}
}

// registerValues installs the metatables of decoded values.
func (c *Context) registerValues() {
	c.meta(enumType, c.enumIndex, map[string]lua.LGFunction{
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(L.CheckUserData(1).Value.(codec.Enum).Name()))
			return 1
		},
		"__eq": func(L *lua.LState) int {
			a, _ := L.CheckUserData(1).Value.(codec.Enum)
			b, ok := L.CheckUserData(2).Value.(codec.Enum)
			L.Push(lua.LBool(ok && a.Eq(b)))
			return 1
		},
	})
	c.meta(bitsType, c.bitsIndex, map[string]lua.LGFunction{
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(L.CheckUserData(1).Value.(codec.Bits).String()))
			return 1
		},
	})
	c.meta(fixedType, c.fixedIndex, c.comparable(fixedType, compareFixed))
	c.meta(decimalType, c.decimalIndex, c.comparable(decimalType, compareDecimal))
	c.meta(timeType, c.timeIndex, c.comparable(timeType, compareTime))
	c.meta(messageType, c.messageIndex, map[string]lua.LGFunction{
		"__pairs": c.messagePairs,
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString("message " + L.CheckUserData(1).Value.(*codec.Message).Name()))
			return 1
		},
	})
	c.meta(arrayType, c.arrayIndex, map[string]lua.LGFunction{
		"__len": func(L *lua.LState) int {
			L.Push(lua.LNumber(L.CheckUserData(1).Value.(*codec.Array).Len()))
			return 1
		},
		"__pairs":  c.arrayPairs,
		"__ipairs": c.arrayPairs,
	})
	c.meta(tombstoneType, nil, map[string]lua.LGFunction{"__tostring": tostring("tombstone")})

	wide := c.comparable(wideType, compareWide)
	wide["__tostring"] = func(L *lua.LState) int {
		L.Push(lua.LString(wideInt(L.CheckUserData(1).Value).String()))
		return 1
	}
	c.meta(wideType, c.wideIndex, wide)
}

func (c *Context) enumIndex(L *lua.LState) int {
	e := L.CheckUserData(1).Value.(codec.Enum)
	switch L.CheckString(2) {
	case "int":
		L.Push(lua.LNumber(e.Value))
	case "string", "name":
		L.Push(lua.LString(e.Name()))
	case "eq":
		return method(L, func(L *lua.LState) int {
			e := L.CheckUserData(1).Value.(codec.Enum)
			x, err := c.value(L.Get(2))
			if err != nil {
				return raise(L, err)
			}
			L.Push(lua.LBool(e.Eq(x)))
			return 1
		})
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func (c *Context) bitsIndex(L *lua.LState) int {
	b := L.CheckUserData(1).Value.(codec.Bits)
	key := L.CheckString(2)
	if v, ok := b.Get(key); ok {
		L.Push(c.push(L, v))
		return 1
	}
	switch key {
	case "int", "raw":
		L.Push(lua.LNumber(b.Value))
	case "string":
		L.Push(lua.LString(b.String()))
	case "names":
		t := L.NewTable()
		for _, n := range b.Names() {
			t.Append(lua.LString(n))
		}
		L.Push(t)
	case "has":
		return method(L, func(L *lua.LState) int {
			b := L.CheckUserData(1).Value.(codec.Bits)
			L.Push(lua.LBool(b.Has(L.CheckString(2))))
			return 1
		})
	case "band", "bor", "bxor":
		return method(L, func(L *lua.LState) int {
			b := L.CheckUserData(1).Value.(codec.Bits)
			x := uint64(L.CheckInt64(2))
			switch key {
			case "band":
				b = b.And(x)
			case "bor":
				b = b.Or(x)
			default:
				b = b.Xor(x)
			}
			L.Push(lua.LNumber(b.Value))
			return 1
		})
	default:
		return raise(L, fmt.Errorf("bits %s has no bit %q", b.Desc.Name, key))
	}
	return 1
}

func (c *Context) fixedIndex(L *lua.LState) int {
	f := L.CheckUserData(1).Value.(codec.Fixed)
	switch key := L.CheckString(2); key {
	case "float":
		L.Push(lua.LNumber(f.Float64()))
	case "string":
		L.Push(lua.LString(f.String()))
	case "int":
		L.Push(lua.LNumber(f.Mantissa))
	case "precision":
		L.Push(lua.LNumber(f.Precision))
	default:
		return c.compareMethod(L, key, compareFixed)
	}
	return 1
}

func (c *Context) decimalIndex(L *lua.LState) int {
	d := L.CheckUserData(1).Value.(codec.Decimal128)
	switch key := L.CheckString(2); key {
	case "float":
		L.Push(lua.LNumber(d.Float64()))
	case "string":
		L.Push(lua.LString(d.String()))
	default:
		return c.compareMethod(L, key, compareDecimal)
	}
	return 1
}

func (c *Context) wideIndex(L *lua.LState) int {
	n := wideInt(L.CheckUserData(1).Value)
	switch key := L.CheckString(2); key {
	case "float":
		f, _ := new(big.Float).SetInt(n).Float64()
		L.Push(lua.LNumber(f))
	case "string":
		L.Push(lua.LString(n.String()))
	default:
		return c.compareMethod(L, key, compareWide)
	}
	return 1
}

func (c *Context) timeIndex(L *lua.LState) int {
	t := L.CheckUserData(1).Value.(codec.TimePoint)
	switch key := L.CheckString(2); key {
	case "seconds":
		L.Push(lua.LNumber(t.Seconds()))
	case "string":
		L.Push(lua.LString(t.String()))
	case "date":
		L.Push(lua.LNumber(t.Date()))
	case "int":
		L.Push(lua.LNumber(t.Int()))
	case "resolution":
		L.Push(lua.LString(t.Res.Name))
	default:
		return c.compareMethod(L, key, compareTime)
	}
	return 1
}

// compareFunc orders a handle against any script value. ok is false when
// the values are not comparable.
type compareFunc func(self, other any) (cmp int, ok bool)

// comparable returns the metamethods for handle to handle comparison. Lua
// only calls them when both operands are userdata.
func (c *Context) comparable(typ string, cmp compareFunc) map[string]lua.LGFunction {
	op := func(want func(int) bool) lua.LGFunction {
		return func(L *lua.LState) int {
			r, ok := cmp(L.CheckUserData(1).Value, L.CheckUserData(2).Value)
			L.Push(lua.LBool(ok && want(r)))
			return 1
		}
	}
	return map[string]lua.LGFunction{
		"__eq": op(func(r int) bool { return r == 0 }),
		"__lt": op(func(r int) bool { return r < 0 }),
		"__le": op(func(r int) bool { return r <= 0 }),
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(L.CheckUserData(1).Value.(interface{ String() string }).String()))
			return 1
		},
	}
}

// compareMethod serves the eq, lt and le methods that compare against
// scalars as well as handles.
func (c *Context) compareMethod(L *lua.LState, key string, cmp compareFunc) int {
	var want func(int) bool
	switch key {
	case "eq":
		want = func(r int) bool { return r == 0 }
	case "lt":
		want = func(r int) bool { return r < 0 }
	case "le":
		want = func(r int) bool { return r <= 0 }
	default:
		L.Push(lua.LNil)
		return 1
	}
	return method(L, func(L *lua.LState) int {
		self := L.CheckUserData(1).Value
		other, err := c.value(L.Get(2))
		if err != nil {
			return raise(L, err)
		}
		r, ok := cmp(self, other)
		L.Push(lua.LBool(ok && want(r)))
		return 1
	})
}

func compareFixed(self, other any) (int, bool) {
	f := self.(codec.Fixed)
	switch x := other.(type) {
	case codec.Fixed:
		return fixedRat(f).Cmp(fixedRat(x)), true
	case string:
		r, ok := new(big.Rat).SetString(x)
		if !ok {
			return 0, false
		}
		return fixedRat(f).Cmp(r), true
	}
	return compareFloat(f.Float64(), other)
}

func compareDecimal(self, other any) (int, bool) {
	d := self.(codec.Decimal128)
	r, ok := new(big.Rat).SetString(d.String())
	switch x := other.(type) {
	case codec.Decimal128:
		o, ok2 := new(big.Rat).SetString(x.String())
		if !ok || !ok2 {
			return 0, false
		}
		return r.Cmp(o), true
	case string:
		o, ok2 := new(big.Rat).SetString(x)
		if !ok || !ok2 {
			return 0, false
		}
		return r.Cmp(o), true
	}
	return compareFloat(d.Float64(), other)
}

func compareTime(self, other any) (int, bool) {
	t := self.(codec.TimePoint)
	switch x := other.(type) {
	case codec.TimePoint:
		return t.Compare(x), true
	case string:
		r, err := codec.ParseTime(x)
		if err != nil {
			return 0, false
		}
		return t.Rat().Cmp(r), true
	case int64:
		return t.Rat().Cmp(new(big.Rat).SetInt64(x)), true
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(x) == nil {
			return 0, false
		}
		return t.Rat().Cmp(r), true
	}
	return 0, false
}

func compareWide(self, other any) (int, bool) {
	a := wideInt(self)
	switch x := other.(type) {
	case int64, uint64:
		return a.Cmp(wideInt(x)), true
	case string:
		b, ok := new(big.Int).SetString(x, 10)
		if !ok {
			return 0, false
		}
		return a.Cmp(b), true
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(x) == nil {
			return 0, false
		}
		return new(big.Rat).SetInt(a).Cmp(r), true
	}
	return 0, false
}

func wideInt(v any) *big.Int {
	switch x := v.(type) {
	case int64:
		return big.NewInt(x)
	case uint64:
		return new(big.Int).SetUint64(x)
	}
	return new(big.Int)
}

func compareFloat(a float64, other any) (int, bool) {
	var b float64
	switch x := other.(type) {
	case int64:
		b = float64(x)
	case uint64:
		b = float64(x)
	case float64:
		b = x
	default:
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	case a == b:
		return 0, true
	}
	return 0, false
}

func fixedRat(f codec.Fixed) *big.Rat {
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.Precision)), nil)
	return new(big.Rat).SetFrac(big.NewInt(f.Mantissa), den)
}

func (c *Context) messageIndex(L *lua.LState) int {
	m := L.CheckUserData(1).Value.(*codec.Message)
	key := L.CheckString(2)
	f, ok := m.Desc().Field(key)
	if !ok {
		return raise(L, fmt.Errorf("message %q has no field %q", m.Name(), key))
	}
	v, err := m.Field(f)
	if err != nil {
		return raise(L, err)
	}
	L.Push(c.push(L, v))
	return 1
}

// messagePairs iterates the present fields in declaration order.
func (c *Context) messagePairs(L *lua.LState) int {
	m := L.CheckUserData(1).Value.(*codec.Message)
	fields := m.Desc().Fields
	i := 0
	next := func(L *lua.LState) int {
		for i < len(fields) {
			f := fields[i]
			i++
			present, err := m.Has(f.Name)
			if err != nil {
				return raise(L, err)
			}
			if !present && m.Codec().Settings().PMap == codec.PMapEnable {
				continue
			}
			v, err := m.Field(f)
			if err != nil {
				return raise(L, err)
			}
			L.Push(lua.LString(f.Name))
			L.Push(c.push(L, v))
			return 2
		}
		return 0
	}
	L.Push(L.NewFunction(next))
	L.Push(L.Get(1))
	L.Push(lua.LNil)
	return 3
}

func (c *Context) arrayIndex(L *lua.LState) int {
	a := L.CheckUserData(1).Value.(*codec.Array)
	key := L.Get(2)
	n, ok := key.(lua.LNumber)
	if !ok {
		if key.String() == "size" {
			L.Push(lua.LNumber(a.Len()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
	idx := int(n)
	if idx < 1 || idx > a.Len() {
		return raise(L, fmt.Errorf("array %s index out of bounds (size %d): %d", a.Field().Name, a.Len(), idx))
	}
	v, err := a.Index(idx - 1)
	if err != nil {
		return raise(L, err)
	}
	L.Push(c.push(L, v))
	return 1
}

func (c *Context) arrayPairs(L *lua.LState) int {
	a := L.CheckUserData(1).Value.(*codec.Array)
	i := 0
	next := func(L *lua.LState) int {
		if i >= a.Len() {
			return 0
		}
		v, err := a.Index(i)
		if err != nil {
			return raise(L, err)
		}
		i++
		L.Push(lua.LNumber(i))
		L.Push(c.push(L, v))
		return 2
	}
	L.Push(L.NewFunction(next))
	L.Push(L.Get(1))
	L.Push(lua.LNumber(0))
	return 3
}
