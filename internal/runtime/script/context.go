// Package script embeds the Lua sandbox of a channel: it loads user code,
// installs the tll_* primitives and reflection objects and invokes hooks.
package script

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/drblury/luaflow/internal/runtime/codec"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// MessageMode selects how messages are passed to hooks.
type MessageMode int

const (
	// MessageAuto is reflection with a scheme and binary without one.
	MessageAuto MessageMode = iota
	MessageBinary
	MessageObject
	MessageReflection
)

func (m MessageMode) String() string {
	switch m {
	case MessageBinary:
		return "binary"
	case MessageObject:
		return "object"
	case MessageReflection:
		return "reflection"
	}
	return "auto"
}

func ParseMessageMode(s string) (MessageMode, error) {
	switch s {
	case "", "auto":
		return MessageAuto, nil
	case "binary":
		return MessageBinary, nil
	case "object":
		return MessageObject, nil
	case "reflection":
		return MessageReflection, nil
	}
	return MessageAuto, errspkg.Config("message-mode", "unknown value %q", s)
}

// Options configures a Context.
type Options struct {
	// Code is inline source or file://path.
	Code    string
	Preload []string
	// Path entries are prepended to package.path.
	Path        []string
	Settings    codec.Settings
	MessageMode MessageMode

	Scheme        *scheme.Scheme
	ControlScheme *scheme.Scheme
	ChildScheme   *scheme.Scheme
}

// Context is the sandbox of one channel instance. It is not safe for
// concurrent use; the owning channel serialises every call.
type Context struct {
	L     *lua.LState
	host  Host
	opts  Options
	codec *codec.Codec
	log   logging.ServiceLogger

	// ctx is the context of the hook being executed, used by primitives
	// that post.
	ctx context.Context
}

// New creates the sandbox, installs primitives, extends package.path and
// runs the preload snippets followed by the main code.
func New(host Host, opts Options) (*Context, error) {
	if strings.TrimSpace(opts.Code) == "" {
		return nil, errspkg.ErrCodeRequired
	}
	log := host.Logger()
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := &Context{
		L:     lua.NewState(),
		host:  host,
		opts:  opts,
		codec: codec.New(opts.Settings),
		log:   log,
		ctx:   context.Background(),
	}
	c.register()
	c.install()

	if err := c.extendPath(opts.Path); err != nil {
		c.L.Close()
		return nil, err
	}
	for i, code := range opts.Preload {
		if err := c.load(code); err != nil {
			c.L.Close()
			return nil, errspkg.Script(fmt.Sprintf("load preload %d", i), err)
		}
	}
	if err := c.load(opts.Code); err != nil {
		c.L.Close()
		return nil, errspkg.Script("load code", err)
	}
	return c, nil
}

// Close releases the Lua state.
func (c *Context) Close() {
	if c.L != nil {
		c.L.Close()
		c.L = nil
	}
}

// Codec returns the codec built from the channel settings.
func (c *Context) Codec() *codec.Codec { return c.codec }

func (c *Context) extendPath(entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	pkg, ok := c.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return errspkg.Script("extend path", fmt.Errorf("package library is not loaded"))
	}
	current := lua.LVAsString(c.L.GetField(pkg, "path"))
	path := strings.Join(entries, ";") + ";" + current
	c.log.Debug("Extend package path", logging.LogFields{"path": path})
	c.L.SetField(pkg, "path", lua.LString(path))
	return nil
}

func (c *Context) load(code string) error {
	if name, ok := CodeFile(code); ok {
		return c.L.DoFile(name)
	}
	return c.L.DoString(code)
}

// Compile checks the syntax of inline code or a file:// script without
// running it.
func Compile(code string) error {
	name := "<code>"
	var r io.Reader = strings.NewReader(code)
	if path, ok := CodeFile(code); ok {
		f, err := os.Open(path)
		if err != nil {
			return errspkg.Script("compile", err)
		}
		defer f.Close()
		name, r = path, bufio.NewReader(f)
	}
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return errspkg.Script("compile", err)
	}
	if _, err := lua.Compile(chunk, name); err != nil {
		return errspkg.Script("compile", err)
	}
	return nil
}

// CodeFile returns the path of a file:// code reference.
func CodeFile(code string) (string, bool) {
	return strings.CutPrefix(code, "file://")
}

// SetScheme replaces the own data scheme, e.g. when a prefix adopts the
// scheme of its child.
func (c *Context) SetScheme(s *scheme.Scheme) {
	c.opts.Scheme = s
	c.L.SetGlobal("tll_self_scheme", c.pushScheme(s))
}

// SetChildScheme publishes the scheme of the data child.
func (c *Context) SetChildScheme(s *scheme.Scheme) {
	c.opts.ChildScheme = s
	c.L.SetGlobal("tll_child_scheme", c.pushScheme(s))
}

// Has reports whether the script defines hook as a function.
func (c *Context) Has(hook string) bool {
	_, ok := c.L.GetGlobal(hook).(*lua.LFunction)
	return ok
}

// Global returns a global value as a string, empty when unset.
func (c *Context) Global(name string) string {
	v := c.L.GetGlobal(name)
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

// Call invokes a global function in protected mode. A missing function is
// not a fault and returns no values.
func (c *Context) Call(ctx context.Context, hook string, nret int, args ...lua.LValue) ([]lua.LValue, Result) {
	fn, ok := c.L.GetGlobal(hook).(*lua.LFunction)
	if !ok {
		return nil, Result{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	prev := c.ctx
	c.ctx = ctx
	defer func() { c.ctx = prev }()
	if ctx.Done() != nil {
		c.L.SetContext(ctx)
		defer c.L.RemoveContext()
	}

	top := c.L.GetTop()
	if err := c.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		c.L.SetTop(top)
		return nil, resultOf(hook, err)
	}
	rets := make([]lua.LValue, nret)
	for i := range rets {
		rets[i] = c.L.Get(top + 1 + i)
	}
	c.L.SetTop(top)
	return rets, Result{}
}
