package script

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/luaflow/internal/runtime/codec"
	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

const testScheme = `
- name: Msg
  id: 10
  fields:
    - {name: pmap, type: uint8, options.pmap: yes}
    - {name: f0, type: int32, options.optional: yes}
    - {name: f1, type: int32, options.optional: yes}
- name: Order
  id: 20
  fields:
    - {name: side, type: int8, enum: {Buy: 1, Sell: 2}}
    - {name: px, type: int64, options.type: fixed3}
- name: Wide
  id: 30
  fields:
    - {name: v, type: int64}
    - {name: u, type: uint64}
`

type fakeChannel struct {
	name   string
	state  string
	scheme *scheme.Scheme
	posted []*envelope.Msg
	closed []bool
	opened *config.Props
}

func (f *fakeChannel) Name() string      { return f.name }
func (f *fakeChannel) StateName() string { return f.state }
func (f *fakeChannel) Post(_ context.Context, m *envelope.Msg) error {
	f.posted = append(f.posted, m)
	return nil
}
func (f *fakeChannel) Scheme(t envelope.Type) *scheme.Scheme {
	if t != envelope.Data {
		return nil
	}
	return f.scheme
}
func (f *fakeChannel) Config() *config.Props { return config.NewProps("state", f.state) }
func (f *fakeChannel) Open(_ context.Context, p *config.Props) error {
	f.opened = p
	return nil
}
func (f *fakeChannel) Close(_ context.Context, force bool) error {
	f.closed = append(f.closed, force)
	return nil
}

type fakeHost struct {
	self   *fakeChannel
	child  *fakeChannel
	groups map[string][]Channel
	out    []*envelope.Msg
}

func (h *fakeHost) Self() Channel { return h.self }
func (h *fakeHost) Child() Channel {
	if h.child == nil {
		return nil
	}
	return h.child
}
func (h *fakeHost) Channels() map[string][]Channel { return h.groups }
func (h *fakeHost) Callback(m *envelope.Msg) error {
	h.out = append(h.out, m)
	return nil
}
func (h *fakeHost) Logger() logging.ServiceLogger { return logging.NopLogger() }

func newTestContext(t *testing.T, code string, mutate ...func(*Options)) (*Context, *fakeHost) {
	t.Helper()
	s, err := scheme.Parse([]byte(testScheme))
	require.NoError(t, err)
	host := &fakeHost{
		self:  &fakeChannel{name: "lua", state: "Active", scheme: s},
		child: &fakeChannel{name: "lua/child", state: "Active", scheme: s},
	}
	opts := Options{Code: code, Scheme: s, ChildScheme: s}
	for _, fn := range mutate {
		fn(&opts)
	}
	c, err := New(host, opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, host
}

func encodeMsg(t *testing.T, s *scheme.Scheme, name string, v map[string]any) *envelope.Msg {
	t.Helper()
	desc, ok := s.Lookup(name)
	require.True(t, ok)
	data, err := codec.New(codec.Settings{}).Encode(desc, v)
	require.NoError(t, err)
	return &envelope.Msg{Type: envelope.Data, Seq: 1, MsgID: desc.MsgID, Data: data}
}

func TestNewRequiresCode(t *testing.T) {
	_, err := New(&fakeHost{}, Options{})
	assert.ErrorIs(t, err, errspkg.ErrCodeRequired)
}

func TestLoadErrorIsScriptFault(t *testing.T) {
	_, err := New(&fakeHost{self: &fakeChannel{}}, Options{Code: "function ("})
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrScriptFault)
}

func TestCallbackFormsAreEquivalent(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_post(seq, name, data)
	tll_callback(seq, name, {f0 = data.f0})
	tll_callback({seq = seq, name = name, data = {f0 = data.f0}})
	tll_callback(seq, 10, {f0 = data.f0})
end
`)
	m := encodeMsg(t, c.opts.Scheme, "Msg", map[string]any{"f0": 10})
	res := c.OnPost(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())

	require.Len(t, host.out, 3)
	for _, out := range host.out {
		assert.Equal(t, int64(1), out.Seq)
		assert.Equal(t, int32(10), out.MsgID)
		assert.Equal(t, envelope.Data, out.Type)
		assert.Equal(t, host.out[0].Data, out.Data)
	}
}

func TestCallbackTableShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"extra args", `tll_callback({name = "Msg"}, 1)`},
		{"name and msgid", `tll_callback({name = "Msg", msgid = 10})`},
		{"unknown name", `tll_callback(1, "Missing", {})`},
		{"too few args", `tll_callback(1, "Msg")`},
		{"bad type", `tll_callback({type = "Other", msgid = 10})`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(t, "function tll_on_active() "+tt.code+" end")
			res := c.OnActive(context.Background())
			require.False(t, res.OK())
			assert.Equal(t, errspkg.KindEncode, res.Kind)
			assert.ErrorIs(t, res.Err, errspkg.ErrEncode)
		})
	}
}

func TestCallbackNameWithoutScheme(t *testing.T) {
	c, _ := newTestContext(t, `function tll_on_active() tll_callback(1, "Msg", {}) end`, func(o *Options) {
		o.Scheme = nil
	})
	res := c.OnActive(context.Background())
	assert.Equal(t, errspkg.KindEncode, res.Kind)
	assert.Contains(t, res.Err.Error(), "without scheme")
}

func TestCallbackRawAndControl(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_active()
	tll_callback(5, 7, "raw-body", "Control", 42)
	tll_callback({type = "Control", msgid = 3, seq = 6, time = 1000})
end
`, func(o *Options) { o.ControlScheme = nil })
	res := c.OnActive(context.Background())
	require.True(t, res.OK(), res.String())
	require.Len(t, host.out, 2)

	assert.Equal(t, envelope.Control, host.out[0].Type)
	assert.Equal(t, int32(7), host.out[0].MsgID)
	assert.Equal(t, int64(42), host.out[0].Addr)
	assert.Equal(t, []byte("raw-body"), host.out[0].Data)

	assert.Equal(t, envelope.Control, host.out[1].Type)
	assert.Equal(t, int64(6), host.out[1].Seq)
	assert.Equal(t, int64(1000), host.out[1].TimeNanos())
}

func TestChildPost(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_post(seq, name, data)
	tll_child_post(seq + 1, name, data)
end
`)
	m := encodeMsg(t, c.opts.Scheme, "Msg", map[string]any{"f0": 3})
	res := c.OnPost(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	require.Len(t, host.child.posted, 1)
	assert.Equal(t, int64(2), host.child.posted[0].Seq)
	assert.Equal(t, m.Data, host.child.posted[0].Data)
}

func TestPresenceMap(t *testing.T) {
	code := `
function tll_on_data(seq, name, data)
	f1 = tostring(data.f1)
	present = tostring(tll_msg_pmap_check(data, "f1"))
	keys = ""
	for k, _ in pairs(data) do keys = keys .. k .. "," end
end
`
	c, _ := newTestContext(t, code)
	m := encodeMsg(t, c.opts.Scheme, "Msg", map[string]any{"f0": 10})
	res := c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "nil", c.Global("f1"))
	assert.Equal(t, "false", c.Global("present"))
	assert.Contains(t, c.Global("keys"), "f0,")
	assert.NotContains(t, c.Global("keys"), "f1,")

	c, _ = newTestContext(t, code, func(o *Options) { o.Settings.PMap = codec.PMapDisable })
	res = c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "0", c.Global("f1"))
	assert.Equal(t, "false", c.Global("present"))
	assert.Contains(t, c.Global("keys"), "f1,")
}

func TestEnumAndFixedValues(t *testing.T) {
	c, _ := newTestContext(t, `
function tll_on_data(seq, name, data)
	side = tostring(data.side)
	is_sell = tostring(data.side:eq("Sell"))
	is_buy = tostring(data.side:eq(1))
	px = data.px.string
	px_eq = tostring(data.px:eq("1.5"))
	px_lt = tostring(data.px:lt(2))
end
`, func(o *Options) { o.Settings.Enum = codec.ModeObject; o.Settings.Fixed = codec.ModeObject })
	m := encodeMsg(t, c.opts.Scheme, "Order", map[string]any{"side": "Sell", "px": "1.500"})
	res := c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "Sell", c.Global("side"))
	assert.Equal(t, "true", c.Global("is_sell"))
	assert.Equal(t, "false", c.Global("is_buy"))
	assert.Equal(t, "true", c.Global("px_eq"))
	assert.Equal(t, "true", c.Global("px_lt"))
}

func TestMessageModes(t *testing.T) {
	code := `
function tll_on_data(seq, name, data, msgid)
	if type(data) == "string" then
		got = "binary:" .. #data
	elseif type(data) == "userdata" and tostring(data):sub(1, 8) == "message " then
		got = "reflection:" .. tostring(name)
	else
		got = "object:" .. data.name .. ":" .. data.msgid .. ":" .. tostring(data.reflection.f0)
	end
end
`
	tests := []struct {
		mode MessageMode
		want string
	}{
		{MessageBinary, "binary:9"},
		{MessageReflection, "reflection:Msg"},
		{MessageAuto, "reflection:Msg"},
		{MessageObject, "object:Msg:10:4"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c, _ := newTestContext(t, code, func(o *Options) { o.MessageMode = tt.mode })
			m := encodeMsg(t, c.opts.Scheme, "Msg", map[string]any{"f0": 4})
			res := c.OnData(context.Background(), m, c.opts.Scheme)
			require.True(t, res.OK(), res.String())
			assert.Equal(t, tt.want, c.Global("got"))
		})
	}
}

func TestAutoModeWithoutScheme(t *testing.T) {
	c, _ := newTestContext(t, `function tll_on_data(seq, name, data) got = data end`, func(o *Options) {
		o.Scheme, o.ChildScheme = nil, nil
	})
	res := c.OnData(context.Background(), &envelope.Msg{MsgID: 1, Data: []byte("xyz")}, nil)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "xyz", c.Global("got"))
}

func TestFaultKinds(t *testing.T) {
	c, _ := newTestContext(t, `
function tll_on_active() error("boom") end
function tll_on_data(seq, name, data) end
`)
	res := c.OnActive(context.Background())
	assert.Equal(t, errspkg.KindScript, res.Kind)
	assert.False(t, res.Fatal())
	assert.Contains(t, res.Err.Error(), "boom")

	res = c.OnData(context.Background(), &envelope.Msg{MsgID: 10, Data: []byte{1}}, c.opts.Scheme)
	assert.Equal(t, errspkg.KindDecode, res.Kind)
	assert.True(t, res.Fatal())

	res = c.OnData(context.Background(), &envelope.Msg{MsgID: 99, Data: []byte{1}}, c.opts.Scheme)
	assert.Equal(t, errspkg.KindScript, res.Kind)
	assert.True(t, errors.Is(res.Err, errspkg.ErrUnknownMessage))
}

func TestMissingHookIsNotAFault(t *testing.T) {
	c, _ := newTestContext(t, `x = 1`)
	assert.True(t, c.OnActive(context.Background()).OK())
	assert.True(t, c.OnData(context.Background(), &envelope.Msg{MsgID: 99}, c.opts.Scheme).OK())
	pass, res := c.Filter(context.Background(), &envelope.Msg{MsgID: 10}, c.opts.Scheme)
	assert.True(t, pass)
	assert.True(t, res.OK())
}

func TestFilter(t *testing.T) {
	c, _ := newTestContext(t, `function tll_filter(seq, name, data) return data.f0 > 5 end`)
	s := c.opts.Scheme
	pass, res := c.Filter(context.Background(), encodeMsg(t, s, "Msg", map[string]any{"f0": 10}), s)
	require.True(t, res.OK(), res.String())
	assert.True(t, pass)
	pass, res = c.Filter(context.Background(), encodeMsg(t, s, "Msg", map[string]any{"f0": 1}), s)
	require.True(t, res.OK(), res.String())
	assert.False(t, pass)
}

func TestOnOpenRewritesParams(t *testing.T) {
	c, _ := newTestContext(t, `
function tll_on_open(cfg)
	cfg.extra = "yes"
	cfg["child.mode"] = cfg.mode
	cfg.drop = nil
end
`)
	params := config.NewProps("mode", "fast", "drop", "1")
	out, res := c.OnOpen(context.Background(), params)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "yes", out.GetOr("extra", ""))
	assert.Equal(t, "fast", out.GetOr("child.mode", ""))
	_, ok := out.Get("drop")
	assert.False(t, ok)
	assert.Equal(t, "1", params.GetOr("drop", ""), "input params stay untouched")

	c, _ = newTestContext(t, `function tll_on_open(cfg) return {only = cfg:get("mode")} end`)
	out, res = c.OnOpen(context.Background(), params)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, map[string]string{"only": "fast"}, out.Map())

	c, _ = newTestContext(t, `x = 1`)
	out, res = c.OnOpen(context.Background(), params)
	require.True(t, res.OK())
	assert.Equal(t, params.Map(), out.Map())
}

func TestReadOnlyConfig(t *testing.T) {
	c, _ := newTestContext(t, `function tll_on_active() tll_self.config.x = 1 end`)
	res := c.OnActive(context.Background())
	require.False(t, res.OK())
	assert.Contains(t, res.Err.Error(), "read only")
}

func TestChannelHandles(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_active()
	self_name = tll_self.name
	child_state = tll_self_child.state
	tll_self_child:post({name = "Msg", seq = 3, data = {f0 = 1}})
	tll_self:close(true)
	tll_self:close()
	tll_self_child:open({a = "b"})
	tll_logger:info("active")
	tll_logger:critical("still active")
end
`)
	res := c.OnActive(context.Background())
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "lua", c.Global("self_name"))
	assert.Equal(t, "Active", c.Global("child_state"))
	require.Len(t, host.child.posted, 1)
	assert.Equal(t, int64(3), host.child.posted[0].Seq)
	assert.Equal(t, []bool{true, false}, host.self.closed)
	require.NotNil(t, host.child.opened)
	assert.Equal(t, "b", host.child.opened.GetOr("a", ""))
}

func TestSelfChannels(t *testing.T) {
	s, err := scheme.Parse([]byte(testScheme))
	require.NoError(t, err)
	a := &fakeChannel{name: "a", scheme: s}
	b := &fakeChannel{name: "b", scheme: s}
	host := &fakeHost{self: &fakeChannel{name: "logic"}, groups: map[string][]Channel{"input": {a, b}}}
	c, err := New(host, Options{Code: `
function tll_on_active()
	for _, ch in ipairs(tll_self_channels.input) do
		ch:post(1, "Msg", {f0 = 2})
	end
	count = #tll_self_channels.input
end
`})
	require.NoError(t, err)
	defer c.Close()
	res := c.OnActive(context.Background())
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "2", c.Global("count"))
	assert.Len(t, a.posted, 1)
	assert.Len(t, b.posted, 1)
}

func TestReflection(t *testing.T) {
	c, _ := newTestContext(t, `
local m = tll_self_scheme.messages.Msg
msgid = m.msgid
size = m.size
f0_offset = m.fields.f0.offset
side = tll_self_scheme.messages.Order.fields.side.type_enum.values.Sell
names = ""
for name, _ in pairs(tll_self_scheme) do names = names .. name .. "," end
`)
	assert.Equal(t, "10", c.Global("msgid"))
	assert.Equal(t, "9", c.Global("size"))
	assert.Equal(t, "1", c.Global("f0_offset"))
	assert.Equal(t, "2", c.Global("side"))
	assert.Equal(t, "Msg,Order,Wide,", c.Global("names"))
}

func TestPrimitives(t *testing.T) {
	c, _ := newTestContext(t, `
band = tll_bit.band(6, 3)
bor = tll_bit.bor(4, 1)
shift = tll_bit.lshift(1, 4)
tp = tll_time_point(2020, 1, 2, 3, 4, 5).string
`)
	assert.Equal(t, "2", c.Global("band"))
	assert.Equal(t, "5", c.Global("bor"))
	assert.Equal(t, "16", c.Global("shift"))
	assert.Contains(t, c.Global("tp"), "2020-01-02T03:04:05")
}

func TestMsgCopy(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_data(seq, name, data)
	local copy = tll_msg_deepcopy(data)
	copy.f0 = copy.f0 + 1
	tll_callback(seq, name, copy)
	local shallow = tll_msg_copy(data)
	f0 = shallow.f0
end
`)
	m := encodeMsg(t, c.opts.Scheme, "Msg", map[string]any{"f0": 1})
	res := c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "1", c.Global("f0"))
	require.Len(t, host.out, 1)

	desc, _ := c.opts.Scheme.Lookup("Msg")
	out, err := c.Codec().Decode(desc, host.out[0].Data)
	require.NoError(t, err)
	v, err := out.Get("f0")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestWideIntegersStayExact(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_data(seq, name, data)
	v = tostring(data.v)
	u = tostring(data.u)
	v_type = type(data.v)
	v_eq = tostring(data.v:eq("9007199254740993"))
	v_lt = tostring(data.v:lt(2^60))
	tll_callback(seq, name, {v = data.v, u = data.u})
	tll_child_post({seq = seq, name = name, data = {v = data.v, u = data.u}})
end
`)
	in := map[string]any{"v": int64(1<<53 + 1), "u": uint64(math.MaxUint64)}
	m := encodeMsg(t, c.opts.Scheme, "Wide", in)
	res := c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "9007199254740993", c.Global("v"))
	assert.Equal(t, "18446744073709551615", c.Global("u"))
	assert.Equal(t, "userdata", c.Global("v_type"))
	assert.Equal(t, "true", c.Global("v_eq"))
	assert.Equal(t, "true", c.Global("v_lt"))

	require.Len(t, host.out, 1)
	require.Len(t, host.child.posted, 1)
	assert.Equal(t, m.Data, host.out[0].Data)
	assert.Equal(t, m.Data, host.child.posted[0].Data)
}

func TestWideIntegerBoundary(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_data(seq, name, data)
	v_type = type(data.v)
	tll_callback(seq, name, {v = data.v, u = data.u})
end
`)
	m := encodeMsg(t, c.opts.Scheme, "Wide", map[string]any{"v": int64(-(1 << 53)), "u": uint64(1 << 53)})
	res := c.OnData(context.Background(), m, c.opts.Scheme)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "number", c.Global("v_type"))
	require.Len(t, host.out, 1)
	assert.Equal(t, m.Data, host.out[0].Data)
}

func TestTombstoneSkipsPresence(t *testing.T) {
	c, host := newTestContext(t, `
function tll_on_active()
	tll_callback(1, "Msg", {f0 = 1, f1 = tll_msg_tombstone})
end
`)
	res := c.OnActive(context.Background())
	require.True(t, res.OK(), res.String())
	require.Len(t, host.out, 1)
	desc, _ := c.opts.Scheme.Lookup("Msg")
	out, err := c.Codec().Decode(desc, host.out[0].Data)
	require.NoError(t, err)
	has, err := out.Has("f1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestParseMessageMode(t *testing.T) {
	for _, s := range []string{"auto", "binary", "object", "reflection"} {
		m, err := ParseMessageMode(s)
		require.NoError(t, err)
		assert.Equal(t, s, m.String())
	}
	_, err := ParseMessageMode("bogus")
	assert.ErrorIs(t, err, errspkg.ErrConfiguration)
}

func TestCompile(t *testing.T) {
	require.NoError(t, Compile(`function tll_on_post(seq, name, data) end`))

	err := Compile(`function tll_on_post(`)
	assert.ErrorIs(t, err, errspkg.ErrScriptFault)

	path := filepath.Join(t.TempDir(), "prefix.lua")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o600))
	require.NoError(t, Compile("file://"+path))

	assert.Error(t, Compile("file://"+filepath.Join(t.TempDir(), "missing.lua")))
}
