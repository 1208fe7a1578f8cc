package script

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/codec"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// maxExact bounds the integers a Lua number holds exactly.
const maxExact = 1 << 53

// push converts a decoded value into its Lua form. Scalars become Lua
// scalars, handles and lazy views become userdata. 64-bit integers
// outside ±2^53 stay exact as a luaflow.int64 handle.
func (c *Context) push(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		if x > maxExact || x < -maxExact {
			return c.newUD(L, x, wideType)
		}
		return lua.LNumber(x)
	case uint64:
		if x > maxExact {
			return c.newUD(L, x, wideType)
		}
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case codec.Enum:
		return c.newUD(L, x, enumType)
	case codec.Bits:
		return c.newUD(L, x, bitsType)
	case codec.Fixed:
		return c.newUD(L, x, fixedType)
	case codec.Decimal128:
		return c.newUD(L, x, decimalType)
	case codec.TimePoint:
		return c.newUD(L, x, timeType)
	case *codec.Message:
		return c.newUD(L, x, messageType)
	case *codec.Array:
		return c.newUD(L, x, arrayType)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := L.CreateTable(0, len(x))
		for _, k := range keys {
			t.RawSetString(k, c.push(L, x[k]))
		}
		return t
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(c.push(L, item))
		}
		return t
	}
	if codec.IsTombstone(v) {
		return c.newUD(L, v, tombstoneType)
	}
	return lua.LString(fmt.Sprint(v))
}

// value converts a Lua value into the form the codec encodes from. Tables
// stay lazy: sequences become a codec.List, keyed tables a codec.Record.
func (c *Context) value(lv lua.LValue) (any, error) {
	switch x := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		return number(float64(x)), nil
	case lua.LString:
		return string(x), nil
	case *lua.LUserData:
		switch v := x.Value.(type) {
		case *msgObject:
			return v.reflection()
		case *configHandle:
			return v.props.Map(), nil
		}
		return x.Value, nil
	case *lua.LTable:
		return c.table(x), nil
	}
	return nil, errspkg.Encode("unsupported value of type %s", lv.Type())
}

// number keeps integral Lua numbers as integers so int modes see raw
// values. Lua numbers are doubles: wider integers travel as int64 handles.
func number(x float64) any {
	if x == math.Trunc(x) && x >= -(1<<63) && x < 1<<63 {
		return int64(x)
	}
	return x
}

func (c *Context) table(t *lua.LTable) any {
	if t.Len() > 0 {
		return tableList{c: c, t: t}
	}
	if k, _ := t.Next(lua.LNil); k != lua.LNil {
		return tableRecord{c: c, t: t}
	}
	return emptyTable{}
}

type tableRecord struct {
	c *Context
	t *lua.LTable
}

func (r tableRecord) Lookup(name string) (any, bool, error) {
	lv := r.t.RawGetString(name)
	if lv == lua.LNil {
		return nil, false, nil
	}
	v, err := r.c.value(lv)
	return v, err == nil, err
}

type tableList struct {
	c *Context
	t *lua.LTable
}

func (l tableList) Len() int { return l.t.Len() }

func (l tableList) Index(i int) (any, error) {
	return l.c.value(l.t.RawGetInt(i + 1))
}

// emptyTable is {}: an empty record and an empty list at once.
type emptyTable struct{}

func (emptyTable) Lookup(string) (any, bool, error) { return nil, false, nil }
func (emptyTable) Len() int                         { return 0 }
func (emptyTable) Index(int) (any, error)           { return nil, nil }

// tableProps flattens a Lua table of string keys into key/value pairs.
func tableProps(t *lua.LTable) map[string]string {
	out := make(map[string]string)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = v.String()
	})
	return out
}
