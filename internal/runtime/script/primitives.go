package script

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/codec"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// register installs every metatable used by values handed to scripts.
func (c *Context) register() {
	registerFault(c.L)
	c.registerValues()
	c.registerReflection()
	c.registerObjects()
}

// install publishes the tll_* globals.
func (c *Context) install() {
	L := c.L
	c.installPairs()

	L.SetGlobal("tll_callback", L.NewFunction(c.luaCallback))
	L.SetGlobal("tll_child_post", L.NewFunction(c.luaChildPost))
	L.SetGlobal("tll_msg_copy", L.NewFunction(c.luaMsgCopy))
	L.SetGlobal("tll_msg_deepcopy", L.NewFunction(c.luaMsgDeepCopy))
	L.SetGlobal("tll_msg_pmap_check", L.NewFunction(c.luaPMapCheck))
	L.SetGlobal("tll_msg_tombstone", c.newUD(L, codec.Tombstone, tombstoneType))
	L.SetGlobal("tll_time_point", L.NewFunction(c.luaTimePoint))
	L.SetGlobal("tll_logger", c.pushLogger(L))
	L.SetGlobal("tll_bit", c.bitLibrary())

	L.SetGlobal("tll_self", c.pushChannel(L, c.host.Self()))
	L.SetGlobal("tll_self_child", c.pushChannel(L, c.host.Child()))
	L.SetGlobal("tll_self_scheme", c.pushScheme(c.opts.Scheme))
	L.SetGlobal("tll_child_scheme", c.pushScheme(c.opts.ChildScheme))
	c.SetChannels(c.host.Channels())
}

// SetChannels publishes the tagged channel groups as tll_self_channels.
func (c *Context) SetChannels(groups map[string][]Channel) {
	if groups == nil {
		c.L.SetGlobal("tll_self_channels", lua.LNil)
		return
	}
	t := c.L.CreateTable(0, len(groups))
	for tag, list := range groups {
		lt := c.L.CreateTable(len(list), 0)
		for _, ch := range list {
			lt.Append(c.pushChannel(c.L, ch))
		}
		t.RawSetString(tag, lt)
	}
	c.L.SetGlobal("tll_self_channels", t)
}

// SetChild replaces tll_self_child, e.g. after the child was created.
func (c *Context) SetChild(ch Channel) {
	c.L.SetGlobal("tll_self_child", c.pushChannel(c.L, ch))
}

// installPairs makes pairs and ipairs honour __pairs and __ipairs on
// userdata. Tables keep the builtin behaviour.
func (c *Context) installPairs() {
	L := c.L
	for _, name := range []string{"pairs", "ipairs"} {
		orig, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			continue
		}
		event := "__" + name
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			v := L.CheckAny(1)
			if ud, ok := v.(*lua.LUserData); ok {
				if mm, ok := L.GetMetaField(ud, event).(*lua.LFunction); ok {
					L.Push(mm)
					L.Push(ud)
					L.Call(1, 3)
					return 3
				}
			}
			L.Push(orig)
			L.Push(v)
			L.Call(1, 3)
			return 3
		}))
	}
}

func (c *Context) luaCallback(L *lua.LState) int {
	m, err := c.encodeArgs(L, 1, c.opts.Scheme, c.opts.ControlScheme)
	if err != nil {
		return raise(L, err)
	}
	if err := c.host.Callback(m); err != nil {
		return raise(L, err)
	}
	return 0
}

func (c *Context) luaChildPost(L *lua.LState) int {
	child := c.host.Child()
	if child == nil {
		return raise(L, errspkg.ErrChildRequired)
	}
	m, err := c.encodeArgs(L, 1, c.opts.ChildScheme, child.Scheme(envelope.Control))
	if err != nil {
		return raise(L, err)
	}
	if err := child.Post(c.ctx, m); err != nil {
		return raise(L, fmt.Errorf("post to child %s: %w", child.Name(), err))
	}
	return 0
}

func (c *Context) decodedArg(L *lua.LState, fn string) *codec.Message {
	ud := L.CheckUserData(1)
	switch v := ud.Value.(type) {
	case *codec.Message:
		return v
	case *msgObject:
		if v.desc == nil {
			raise(L, fmt.Errorf("%s: message %d is not in the scheme", fn, v.msg.MsgID))
			return nil
		}
		m, err := c.codec.Decode(v.desc, v.msg.Data)
		if err != nil {
			raise(L, err)
			return nil
		}
		return m
	}
	raise(L, fmt.Errorf("%s: expected message, got %s", fn, ud.Type()))
	return nil
}

func (c *Context) luaMsgCopy(L *lua.LState) int {
	m := c.decodedArg(L, "tll_msg_copy")
	out, err := codec.Copy(m)
	if err != nil {
		return raise(L, err)
	}
	L.Push(c.push(L, out))
	return 1
}

func (c *Context) luaMsgDeepCopy(L *lua.LState) int {
	var v any
	switch x := L.CheckAny(1).(type) {
	case *lua.LUserData:
		switch x.Value.(type) {
		case *codec.Message, *msgObject:
			v = c.decodedArg(L, "tll_msg_deepcopy")
		default:
			v = x.Value
		}
	default:
		L.Push(x)
		return 1
	}
	out, err := codec.DeepCopy(v)
	if err != nil {
		return raise(L, err)
	}
	L.Push(c.push(L, out))
	return 1
}

func (c *Context) luaPMapCheck(L *lua.LState) int {
	m := c.decodedArg(L, "tll_msg_pmap_check")
	present, err := codec.PMapCheck(m, L.CheckString(2))
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LBool(present))
	return 1
}

func (c *Context) luaTimePoint(L *lua.LState) int {
	args := make([]int, 7)
	n := L.GetTop()
	if n < 3 || n > 7 {
		return raise(L, fmt.Errorf("tll_time_point: expected 3 to 7 arguments, got %d", n))
	}
	for i := 1; i <= n; i++ {
		args[i-1] = L.CheckInt(i)
	}
	tp := codec.NewTimePoint(args[0], args[1], args[2], args[3], args[4], args[5], args[6])
	L.Push(c.newUD(L, tp, timeType))
	return 1
}

func (c *Context) bitLibrary() *lua.LTable {
	L := c.L
	t := L.CreateTable(0, 6)
	binary := func(op func(a, b uint64) uint64) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			r := uint64(L.CheckInt64(1))
			for i := 2; i <= L.GetTop(); i++ {
				r = op(r, uint64(L.CheckInt64(i)))
			}
			L.Push(lua.LNumber(int64(r)))
			return 1
		})
	}
	t.RawSetString("band", binary(func(a, b uint64) uint64 { return a & b }))
	t.RawSetString("bor", binary(func(a, b uint64) uint64 { return a | b }))
	t.RawSetString("bxor", binary(func(a, b uint64) uint64 { return a ^ b }))
	t.RawSetString("bnot", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(^L.CheckInt64(1)))
		return 1
	}))
	t.RawSetString("lshift", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(L.CheckInt64(1) << uint(L.CheckInt(2))))
		return 1
	}))
	t.RawSetString("rshift", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(int64(uint64(L.CheckInt64(1)) >> uint(L.CheckInt(2)))))
		return 1
	}))
	return t
}

// encodeArgs builds a message from the arguments starting at base. Three
// forms are accepted: a message object which is copied as is, a table
// {type, seq, time, name | msgid, addr, data} and positional arguments
// (seq, name_or_id, data[, type | addr[, addr]]). Control messages use the
// control scheme.
func (c *Context) encodeArgs(L *lua.LState, base int, data, control *scheme.Scheme) (*envelope.Msg, error) {
	args := L.GetTop()
	first := L.Get(base)
	if ud, ok := first.(*lua.LUserData); ok {
		if o, ok := ud.Value.(*msgObject); ok {
			return o.msg.Clone(), nil
		}
	}
	if t, ok := first.(*lua.LTable); ok {
		if args > base {
			return nil, errspkg.Encode("extra arguments not supported when using table: %d extra args", args-base)
		}
		return c.encodeTable(t, data, control)
	}

	if args < base+2 {
		return nil, errspkg.Encode("too small number of arguments: %d < min %d", args-base+1, 3)
	}
	m := &envelope.Msg{Type: envelope.Data}
	if n, ok := L.Get(base).(lua.LNumber); ok {
		m.Seq = int64(n)
	}
	idx := base + 3
	if args >= idx {
		switch v := L.Get(idx).(type) {
		case lua.LString:
			t, err := envelope.ParseType(string(v))
			if err != nil {
				return nil, errspkg.Encode("%v", err)
			}
			m.Type = t
			if n, ok := L.Get(idx + 1).(lua.LNumber); ok {
				m.Addr = int64(n)
			}
		case lua.LNumber:
			m.Addr = int64(v)
		}
	}
	s := data
	if m.Type != envelope.Data {
		s = control
	}
	desc, err := lookupMessage(s, L.Get(base+1), m)
	if err != nil {
		return nil, err
	}
	if m.Data, err = c.encodeData(desc, L.Get(base+2), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Context) encodeTable(t *lua.LTable, data, control *scheme.Scheme) (*envelope.Msg, error) {
	m := &envelope.Msg{Type: envelope.Data}
	switch v := t.RawGetString("type").(type) {
	case lua.LString:
		typ, err := envelope.ParseType(string(v))
		if err != nil || typ > envelope.Control {
			return nil, errspkg.Encode("unknown message type: %q, need one of Data or Control", string(v))
		}
		m.Type = typ
	case lua.LNumber:
		m.Type = envelope.Type(v)
	}
	s := data
	if m.Type != envelope.Data {
		s = control
	}
	if n, ok := t.RawGetString("seq").(lua.LNumber); ok {
		m.Seq = int64(n)
	}
	if n, ok := t.RawGetString("time").(lua.LNumber); ok {
		m.Time = timeFromNanos(int64(n))
	}
	switch v := t.RawGetString("addr").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		m.Addr = int64(v)
	default:
		return nil, errspkg.Encode("invalid type of 'addr' parameter: %s", v.Type())
	}

	name, msgid := t.RawGetString("name"), t.RawGetString("msgid")
	if name != lua.LNil && msgid != lua.LNil {
		return nil, errspkg.Encode("conflicting 'name' and 'msgid' parameters in table, need only one")
	}
	key := name
	if key == lua.LNil {
		key = msgid
	}
	switch key.(type) {
	case *lua.LNilType, lua.LString, lua.LNumber:
	default:
		return nil, errspkg.Encode("invalid type of message name or id: %s", key.Type())
	}
	desc, err := lookupMessage(s, key, m)
	if err != nil {
		return nil, err
	}
	if v := t.RawGetString("data"); v != lua.LNil {
		if m.Data, err = c.encodeData(desc, v, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// lookupMessage resolves a message name or id and stores the id in m.
func lookupMessage(s *scheme.Scheme, key lua.LValue, m *envelope.Msg) (*scheme.Message, error) {
	switch v := key.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LNumber:
		m.MsgID = int32(v)
		if s == nil {
			return nil, nil
		}
		desc, ok := s.LookupID(m.MsgID)
		if !ok {
			return nil, errspkg.Encode("message %d not found in scheme", m.MsgID)
		}
		return desc, nil
	case lua.LString:
		if s == nil {
			return nil, errspkg.Encode("message name %q without scheme", string(v))
		}
		desc, ok := s.Lookup(string(v))
		if !ok {
			return nil, errspkg.Encode("message %q not found in scheme", string(v))
		}
		m.MsgID = desc.MsgID
		return desc, nil
	}
	return nil, errspkg.Encode("invalid message name/id argument of type %s", key.Type())
}

// encodeData produces the message body from a raw string, a decoded
// message or a table.
func (c *Context) encodeData(desc *scheme.Message, v lua.LValue, m *envelope.Msg) ([]byte, error) {
	switch x := v.(type) {
	case lua.LString:
		return []byte(x), nil
	case *lua.LUserData:
		switch d := x.Value.(type) {
		case *msgObject:
			if desc == nil || desc == d.desc {
				m.MsgID = d.msg.MsgID
				return append([]byte(nil), d.msg.Data...), nil
			}
			rec, err := d.reflection()
			if err != nil {
				return nil, err
			}
			return c.codec.Encode(desc, rec)
		case *codec.Message:
			if desc == nil {
				desc = d.Desc()
				m.MsgID = desc.MsgID
			}
			return c.codec.Encode(desc, d)
		}
		return nil, errspkg.Encode("invalid type of data: %s", x.Type())
	case *lua.LTable:
		if desc == nil {
			return nil, errspkg.Encode("message %d not found, can not encode table without scheme", m.MsgID)
		}
		return c.codec.Encode(desc, c.table(x))
	}
	return nil, errspkg.Encode("invalid type of data: allowed string, table and message, got %s", v.Type())
}

func timeFromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
