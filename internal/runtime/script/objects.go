package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/codec"
	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

const (
	configType  = "luaflow.config"
	channelType = "luaflow.channel"
	loggerType  = "luaflow.logger"
	msgType     = "luaflow.msg"
)

// configHandle exposes Props by dotted key. Open parameters are writable so
// tll_on_open can rewrite them before they reach the child.
type configHandle struct {
	props    *config.Props
	writable bool
}

// msgObject is a message in object mode.
type msgObject struct {
	msg  *envelope.Msg
	desc *scheme.Message
	c    *codec.Codec
}

// reflection decodes the message lazily, or returns the raw body when the
// message is not in the scheme.
func (m *msgObject) reflection() (any, error) {
	if m.desc == nil {
		return m.msg.Data, nil
	}
	return m.c.Decode(m.desc, m.msg.Data)
}

func (c *Context) registerObjects() {
	c.meta(configType, c.configIndex, map[string]lua.LGFunction{
		"__newindex": c.configSet,
		"__pairs":    c.configPairs,
	})
	c.meta(channelType, c.channelIndex, map[string]lua.LGFunction{
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString("channel " + L.CheckUserData(1).Value.(Channel).Name()))
			return 1
		},
		"__eq": func(L *lua.LState) int {
			a := L.CheckUserData(1).Value.(Channel)
			b, ok := L.CheckUserData(2).Value.(Channel)
			L.Push(lua.LBool(ok && a.Name() == b.Name()))
			return 1
		},
	})
	c.meta(loggerType, c.loggerIndex, nil)
	c.meta(msgType, c.msgIndex, nil)
}

func (c *Context) pushConfig(L *lua.LState, p *config.Props, writable bool) lua.LValue {
	if p == nil {
		p = config.NewProps()
	}
	return c.newUD(L, &configHandle{props: p, writable: writable}, configType)
}

func (c *Context) configIndex(L *lua.LState) int {
	h := L.CheckUserData(1).Value.(*configHandle)
	switch key := L.CheckString(2); key {
	case "get":
		return method(L, func(L *lua.LState) int {
			h := L.CheckUserData(1).Value.(*configHandle)
			if v, ok := h.props.Get(L.CheckString(2)); ok {
				L.Push(lua.LString(v))
				return 1
			}
			L.Push(L.Get(3))
			return 1
		})
	case "as_dict":
		return method(L, func(L *lua.LState) int {
			h := L.CheckUserData(1).Value.(*configHandle)
			L.Push(c.push(L, stringMap(h.props.Map())))
			return 1
		})
	case "sub":
		return method(L, func(L *lua.LState) int {
			h := L.CheckUserData(1).Value.(*configHandle)
			L.Push(c.pushConfig(L, h.props.Sub(L.CheckString(2)), false))
			return 1
		})
	case "set":
		return method(L, func(L *lua.LState) int {
			h := L.CheckUserData(1).Value.(*configHandle)
			if !h.writable {
				return raise(L, fmt.Errorf("config is read only"))
			}
			h.props.Set(L.CheckString(2), L.CheckAny(3).String())
			return 0
		})
	default:
		if v, ok := h.props.Get(key); ok {
			L.Push(lua.LString(v))
			return 1
		}
		L.Push(lua.LNil)
	}
	return 1
}

func (c *Context) configSet(L *lua.LState) int {
	h := L.CheckUserData(1).Value.(*configHandle)
	if !h.writable {
		return raise(L, fmt.Errorf("config is read only"))
	}
	key := L.CheckString(2)
	if v := L.Get(3); v == lua.LNil {
		h.props.Delete(key)
	} else {
		h.props.Set(key, v.String())
	}
	return 0
}

func (c *Context) configPairs(L *lua.LState) int {
	h := L.CheckUserData(1).Value.(*configHandle)
	keys := h.props.Keys()
	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		for i < len(keys) {
			k := keys[i]
			i++
			if v, ok := h.props.Get(k); ok {
				L.Push(lua.LString(k))
				L.Push(lua.LString(v))
				return 2
			}
		}
		return 0
	}))
	L.Push(L.Get(1))
	L.Push(lua.LNil)
	return 3
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *Context) pushChannel(L *lua.LState, ch Channel) lua.LValue {
	if ch == nil {
		return lua.LNil
	}
	return c.newUD(L, ch, channelType)
}

func (c *Context) channelIndex(L *lua.LState) int {
	ch := L.CheckUserData(1).Value.(Channel)
	switch key := L.CheckString(2); key {
	case "name":
		L.Push(lua.LString(ch.Name()))
	case "state":
		L.Push(lua.LString(ch.StateName()))
	case "config":
		L.Push(c.pushConfig(L, ch.Config(), false))
	case "post":
		return method(L, func(L *lua.LState) int {
			ch := L.CheckUserData(1).Value.(Channel)
			m, err := c.encodeArgs(L, 2, ch.Scheme(envelope.Data), ch.Scheme(envelope.Control))
			if err != nil {
				return raise(L, err)
			}
			if err := ch.Post(c.ctx, m); err != nil {
				return raise(L, fmt.Errorf("post to %s: %w", ch.Name(), err))
			}
			return 0
		})
	case "scheme":
		return method(L, func(L *lua.LState) int {
			ch := L.CheckUserData(1).Value.(Channel)
			switch mode := L.OptString(2, "data"); mode {
			case "data":
				L.Push(c.pushScheme(ch.Scheme(envelope.Data)))
			case "control":
				L.Push(c.pushScheme(ch.Scheme(envelope.Control)))
			default:
				return raise(L, fmt.Errorf("invalid scheme mode %q, need one of 'data' or 'control'", mode))
			}
			return 1
		})
	case "close":
		return method(L, func(L *lua.LState) int {
			ch := L.CheckUserData(1).Value.(Channel)
			force := false
			if L.GetTop() >= 2 {
				b, ok := L.Get(2).(lua.LBool)
				if !ok {
					return raise(L, fmt.Errorf("invalid close parameter, expected bool, got %s", L.Get(2).Type()))
				}
				force = bool(b)
			}
			if err := ch.Close(c.ctx, force); err != nil {
				return raise(L, err)
			}
			return 0
		})
	case "open":
		return method(L, func(L *lua.LState) int {
			ch := L.CheckUserData(1).Value.(Channel)
			params := config.NewProps()
			switch v := L.Get(2).(type) {
			case *lua.LNilType:
			case *lua.LTable:
				params = config.PropsFromMap(tableProps(v))
			case *lua.LUserData:
				h, ok := v.Value.(*configHandle)
				if !ok {
					return raise(L, fmt.Errorf("invalid open parameter, expected table or config"))
				}
				params = h.props.Clone()
			default:
				return raise(L, fmt.Errorf("invalid open parameter, expected table or config, got %s", v.Type()))
			}
			if err := ch.Open(c.ctx, params); err != nil {
				return raise(L, err)
			}
			return 0
		})
	default:
		return raise(L, fmt.Errorf("invalid channel attribute %q", key))
	}
	return 1
}

func (c *Context) pushLogger(L *lua.LState) lua.LValue {
	return c.newUD(L, c.log, loggerType)
}

func (c *Context) loggerIndex(L *lua.LState) int {
	key := L.CheckString(2)
	var fn func(log logging.ServiceLogger, msg string)
	switch key {
	case "trace":
		fn = func(log logging.ServiceLogger, msg string) { log.Trace(msg, nil) }
	case "debug":
		fn = func(log logging.ServiceLogger, msg string) { log.Debug(msg, nil) }
	case "info":
		fn = func(log logging.ServiceLogger, msg string) { log.Info(msg, nil) }
	case "warn", "warning":
		fn = func(log logging.ServiceLogger, msg string) { log.Warn(msg, nil) }
	case "error":
		fn = func(log logging.ServiceLogger, msg string) { log.Error(msg, nil, nil) }
	case "critical":
		fn = func(log logging.ServiceLogger, msg string) {
			log.Error(msg, nil, logging.LogFields{"severity": "critical"})
		}
	default:
		return raise(L, fmt.Errorf("invalid logger attribute %q", key))
	}
	return method(L, func(L *lua.LState) int {
		log := L.CheckUserData(1).Value.(logging.ServiceLogger)
		fn(log, L.CheckString(2))
		return 0
	})
}

func (c *Context) pushMsgObject(L *lua.LState, m *envelope.Msg, desc *scheme.Message) lua.LValue {
	return c.newUD(L, &msgObject{msg: m, desc: desc, c: c.codec}, msgType)
}

func (c *Context) msgIndex(L *lua.LState) int {
	o := L.CheckUserData(1).Value.(*msgObject)
	switch key := L.CheckString(2); key {
	case "type":
		L.Push(lua.LNumber(o.msg.Type))
	case "seq":
		L.Push(lua.LNumber(o.msg.Seq))
	case "msgid":
		L.Push(lua.LNumber(o.msg.MsgID))
	case "addr":
		L.Push(lua.LNumber(o.msg.Addr))
	case "time":
		L.Push(lua.LNumber(o.msg.TimeNanos()))
	case "size":
		L.Push(lua.LNumber(len(o.msg.Data)))
	case "data":
		L.Push(lua.LString(o.msg.Data))
	case "name":
		if o.desc == nil {
			L.Push(lua.LNil)
			break
		}
		L.Push(lua.LString(o.desc.Name))
	case "reflection":
		if o.desc == nil {
			L.Push(lua.LNil)
			break
		}
		v, err := o.reflection()
		if err != nil {
			return raise(L, err)
		}
		L.Push(c.push(L, v))
	default:
		return raise(L, fmt.Errorf("invalid message attribute %q", key))
	}
	return 1
}
