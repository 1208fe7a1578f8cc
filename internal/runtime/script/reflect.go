package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/scheme"
)

const (
	schemeType        = "luaflow.scheme"
	schemeMessageType = "luaflow.scheme.message"
	schemeFieldType   = "luaflow.scheme.field"
	schemeEnumType    = "luaflow.scheme.enum"
	schemeBitsType    = "luaflow.scheme.bits"
	optionsType       = "luaflow.scheme.options"
)

func (c *Context) registerReflection() {
	c.meta(schemeType, c.schemeIndex, map[string]lua.LGFunction{"__pairs": c.schemePairs})
	c.meta(schemeMessageType, c.schemeMessageIndex, map[string]lua.LGFunction{
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString("message " + L.CheckUserData(1).Value.(*scheme.Message).Name))
			return 1
		},
	})
	c.meta(schemeFieldType, c.schemeFieldIndex, nil)
	c.meta(schemeEnumType, c.schemeEnumIndex, nil)
	c.meta(schemeBitsType, c.schemeBitsIndex, nil)
	c.meta(optionsType, c.optionsIndex, map[string]lua.LGFunction{"__pairs": c.optionsPairs})
}

func (c *Context) pushScheme(s *scheme.Scheme) lua.LValue {
	if s == nil {
		return lua.LNil
	}
	return c.newUD(c.L, s, schemeType)
}

func (c *Context) pushOptions(L *lua.LState, o scheme.Options) lua.LValue {
	return c.newUD(L, o, optionsType)
}

func (c *Context) enumTable(L *lua.LState, enums []*scheme.Enum) *lua.LTable {
	t := L.CreateTable(0, len(enums))
	for _, e := range enums {
		t.RawSetString(e.Name, c.newUD(L, e, schemeEnumType))
	}
	return t
}

func (c *Context) bitsTable(L *lua.LState, bits []*scheme.Bits) *lua.LTable {
	t := L.CreateTable(0, len(bits))
	for _, b := range bits {
		t.RawSetString(b.Name, c.newUD(L, b, schemeBitsType))
	}
	return t
}

func (c *Context) schemeIndex(L *lua.LState) int {
	s := L.CheckUserData(1).Value.(*scheme.Scheme)
	switch key := L.CheckString(2); key {
	case "options":
		L.Push(c.pushOptions(L, s.Options))
	case "messages":
		t := L.CreateTable(0, len(s.Messages))
		for _, m := range s.Messages {
			t.RawSetString(m.Name, c.newUD(L, m, schemeMessageType))
		}
		L.Push(t)
	case "enums":
		L.Push(c.enumTable(L, s.Enums))
	case "bits":
		L.Push(c.bitsTable(L, s.Bits))
	default:
		return raise(L, fmt.Errorf("invalid scheme attribute %q", key))
	}
	return 1
}

// schemePairs iterates messages in declaration order.
func (c *Context) schemePairs(L *lua.LState) int {
	s := L.CheckUserData(1).Value.(*scheme.Scheme)
	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if i >= len(s.Messages) {
			return 0
		}
		m := s.Messages[i]
		i++
		L.Push(lua.LString(m.Name))
		L.Push(c.newUD(L, m, schemeMessageType))
		return 2
	}))
	L.Push(L.Get(1))
	L.Push(lua.LNil)
	return 3
}

func (c *Context) schemeMessageIndex(L *lua.LState) int {
	m := L.CheckUserData(1).Value.(*scheme.Message)
	switch key := L.CheckString(2); key {
	case "options":
		L.Push(c.pushOptions(L, m.Options))
	case "name":
		L.Push(lua.LString(m.Name))
	case "msgid":
		L.Push(lua.LNumber(m.MsgID))
	case "size":
		L.Push(lua.LNumber(m.Size))
	case "fields":
		t := L.CreateTable(0, len(m.Fields))
		for _, f := range m.Fields {
			t.RawSetString(f.Name, c.newUD(L, f, schemeFieldType))
		}
		L.Push(t)
	case "enums":
		L.Push(c.enumTable(L, m.Enums))
	case "bits":
		L.Push(c.bitsTable(L, m.Bits))
	default:
		return raise(L, fmt.Errorf("invalid message attribute %q", key))
	}
	return 1
}

func (c *Context) schemeFieldIndex(L *lua.LState) int {
	f := L.CheckUserData(1).Value.(*scheme.Field)
	switch key := L.CheckString(2); key {
	case "options":
		L.Push(c.pushOptions(L, f.Options))
	case "name":
		L.Push(lua.LString(f.Name))
	case "type":
		L.Push(lua.LString(f.Type.String()))
	case "sub_type":
		L.Push(lua.LString(f.SubType.String()))
	case "offset":
		L.Push(lua.LNumber(f.Offset))
	case "size":
		L.Push(lua.LNumber(f.Size))
	case "type_enum":
		if f.SubType != scheme.SubEnum {
			L.Push(lua.LNil)
			break
		}
		L.Push(c.newUD(L, f.Enum, schemeEnumType))
	case "type_bits":
		if f.SubType != scheme.SubBits {
			L.Push(lua.LNil)
			break
		}
		L.Push(c.newUD(L, f.Bits, schemeBitsType))
	case "type_msg":
		if f.TypeMsg == nil {
			L.Push(lua.LNil)
			break
		}
		L.Push(c.newUD(L, f.TypeMsg, schemeMessageType))
	case "precision":
		if f.SubType != scheme.SubFixed {
			L.Push(lua.LNil)
			break
		}
		L.Push(lua.LNumber(f.FixedPrecision))
	case "resolution":
		if f.SubType != scheme.SubTimePoint {
			L.Push(lua.LNil)
			break
		}
		L.Push(lua.LString(f.Resolution.Name))
	default:
		return raise(L, fmt.Errorf("invalid field attribute %q", key))
	}
	return 1
}

func (c *Context) schemeEnumIndex(L *lua.LState) int {
	e := L.CheckUserData(1).Value.(*scheme.Enum)
	switch key := L.CheckString(2); key {
	case "options":
		L.Push(c.pushOptions(L, e.Options))
	case "name":
		L.Push(lua.LString(e.Name))
	case "type":
		L.Push(lua.LString(e.Type.String()))
	case "values":
		t := L.CreateTable(0, len(e.Values))
		for _, v := range e.Values {
			t.RawSetString(v.Name, lua.LNumber(v.Value))
		}
		L.Push(t)
	default:
		return raise(L, fmt.Errorf("invalid enum attribute %q", key))
	}
	return 1
}

func (c *Context) schemeBitsIndex(L *lua.LState) int {
	b := L.CheckUserData(1).Value.(*scheme.Bits)
	switch key := L.CheckString(2); key {
	case "options":
		L.Push(c.pushOptions(L, b.Options))
	case "name":
		L.Push(lua.LString(b.Name))
	case "type":
		L.Push(lua.LString(b.Type.String()))
	case "values":
		t := L.CreateTable(0, len(b.Fields))
		for _, bf := range b.Fields {
			v := L.CreateTable(0, 4)
			v.RawSetString("name", lua.LString(bf.Name))
			v.RawSetString("offset", lua.LNumber(bf.Offset))
			v.RawSetString("size", lua.LNumber(bf.Size))
			v.RawSetString("value", lua.LNumber(bf.Mask()))
			t.RawSetString(bf.Name, v)
		}
		L.Push(t)
	default:
		return raise(L, fmt.Errorf("invalid bits attribute %q", key))
	}
	return 1
}

func (c *Context) optionsIndex(L *lua.LState) int {
	o := L.CheckUserData(1).Value.(scheme.Options)
	if v, ok := o.Get(L.CheckString(2)); ok {
		L.Push(lua.LString(v))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

func (c *Context) optionsPairs(L *lua.LState) int {
	o := L.CheckUserData(1).Value.(scheme.Options)
	keys := o.Keys()
	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if i >= len(keys) {
			return 0
		}
		k := keys[i]
		i++
		v, _ := o.Get(k)
		L.Push(lua.LString(k))
		L.Push(lua.LString(v))
		return 2
	}))
	L.Push(L.Get(1))
	L.Push(lua.LNil)
	return 3
}
