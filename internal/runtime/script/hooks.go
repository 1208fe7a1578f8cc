package script

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Hook names looked up in the script globals.
const (
	HookOpen   = "tll_on_open"
	HookActive = "tll_on_active"
	HookClose  = "tll_on_close"
	HookData   = "tll_on_data"
	HookPost   = "tll_on_post"
	// Control messages from the child and posted by the parent.
	HookControl     = "tll_on_control"
	HookPostControl = "tll_on_post_control"
	HookFilter      = "tll_filter"
	HookChannel     = "tll_on_channel"
)

// Mode returns the effective message mode for messages of scheme s.
func (c *Context) Mode(s *scheme.Scheme) MessageMode {
	if c.opts.MessageMode != MessageAuto {
		return c.opts.MessageMode
	}
	if s != nil {
		return MessageReflection
	}
	return MessageBinary
}

func failed(op string, err error) Result {
	kind := errspkg.KindOf(err)
	if kind == errspkg.KindNone || kind == errspkg.KindConfiguration {
		kind = errspkg.KindScript
	}
	return Result{Kind: kind, Err: &errspkg.Error{Kind: kind, Op: op, Err: err}}
}

// pushMsg converts m into the (name, data) pair handed to hooks.
func (c *Context) pushMsg(m *envelope.Msg, s *scheme.Scheme) (lua.LValue, lua.LValue, error) {
	mode := c.Mode(s)
	var desc *scheme.Message
	if s != nil {
		d, ok := s.LookupID(m.MsgID)
		if !ok && mode == MessageReflection {
			return nil, nil, errspkg.Script("lookup message", errspkg.ErrUnknownMessage)
		}
		desc = d
	}
	var name lua.LValue = lua.LNil
	if desc != nil {
		name = lua.LString(desc.Name)
	}
	switch mode {
	case MessageObject:
		return name, c.pushMsgObject(c.L, m, desc), nil
	case MessageReflection:
		if desc == nil {
			return name, lua.LString(m.Data), nil
		}
		v, err := c.codec.Decode(desc, m.Data)
		if err != nil {
			return nil, nil, err
		}
		return name, c.push(c.L, v), nil
	}
	return name, lua.LString(m.Data), nil
}

func (c *Context) msgArgs(m *envelope.Msg, s *scheme.Scheme) ([]lua.LValue, error) {
	name, data, err := c.pushMsg(m, s)
	if err != nil {
		return nil, err
	}
	return []lua.LValue{
		lua.LNumber(m.Seq),
		name,
		data,
		lua.LNumber(m.MsgID),
		lua.LNumber(m.Addr),
		lua.LNumber(m.TimeNanos()),
	}, nil
}

// OnOpen calls tll_on_open with a writable copy of params. The hook may
// modify it in place or return a table or config that replaces it. The
// returned props are what the child is opened with.
func (c *Context) OnOpen(ctx context.Context, params *config.Props) (*config.Props, Result) {
	if params == nil {
		params = config.NewProps()
	}
	cfg := params.Clone()
	rets, res := c.Call(ctx, HookOpen, 1, c.pushConfig(c.L, cfg, true))
	if !res.OK() || len(rets) == 0 {
		return cfg, res
	}
	switch v := rets[0].(type) {
	case *lua.LTable:
		return config.PropsFromMap(tableProps(v)), res
	case *lua.LUserData:
		if h, ok := v.Value.(*configHandle); ok {
			return h.props.Clone(), res
		}
	}
	return cfg, res
}

// OnActive calls tll_on_active.
func (c *Context) OnActive(ctx context.Context) Result {
	_, res := c.Call(ctx, HookActive, 0)
	return res
}

// OnClose calls tll_on_close.
func (c *Context) OnClose(ctx context.Context) Result {
	_, res := c.Call(ctx, HookClose, 0)
	return res
}

// OnData calls tll_on_data with a message received from the child.
func (c *Context) OnData(ctx context.Context, m *envelope.Msg, s *scheme.Scheme) Result {
	return c.callMsg(ctx, HookData, m, s)
}

// OnPost calls tll_on_post with a message posted by the parent.
func (c *Context) OnPost(ctx context.Context, m *envelope.Msg, s *scheme.Scheme) Result {
	return c.callMsg(ctx, HookPost, m, s)
}

// OnControl calls tll_on_control with a control message from the child.
func (c *Context) OnControl(ctx context.Context, m *envelope.Msg, s *scheme.Scheme) Result {
	return c.callMsg(ctx, HookControl, m, s)
}

// OnPostControl calls tll_on_post_control with a control message posted by
// the parent.
func (c *Context) OnPostControl(ctx context.Context, m *envelope.Msg, s *scheme.Scheme) Result {
	return c.callMsg(ctx, HookPostControl, m, s)
}

func (c *Context) callMsg(ctx context.Context, hook string, m *envelope.Msg, s *scheme.Scheme) Result {
	if !c.Has(hook) {
		return Result{}
	}
	args, err := c.msgArgs(m, s)
	if err != nil {
		return failed(hook, err)
	}
	_, res := c.Call(ctx, hook, 0, args...)
	return res
}

// Filter calls tll_filter and reports whether m passes. Without the hook
// every message passes.
func (c *Context) Filter(ctx context.Context, m *envelope.Msg, s *scheme.Scheme) (bool, Result) {
	if !c.Has(HookFilter) {
		return true, Result{}
	}
	args, err := c.msgArgs(m, s)
	if err != nil {
		return false, failed(HookFilter, err)
	}
	rets, res := c.Call(ctx, HookFilter, 1, args...)
	if !res.OK() {
		return false, res
	}
	return lua.LVAsBool(rets[0]), res
}

// OnChannel calls tll_on_channel_<tag>, falling back to tll_on_channel,
// with a message received from ch.
func (c *Context) OnChannel(ctx context.Context, tag string, ch Channel, m *envelope.Msg, s *scheme.Scheme) Result {
	hook := HookChannel + "_" + tag
	if !c.Has(hook) {
		hook = HookChannel
		if !c.Has(hook) {
			return Result{}
		}
	}
	args, err := c.msgArgs(m, s)
	if err != nil {
		return failed(hook, err)
	}
	full := append([]lua.LValue{c.pushChannel(c.L, ch), lua.LNumber(m.Type)}, args...)
	_, res := c.Call(ctx, hook, 0, full...)
	return res
}
