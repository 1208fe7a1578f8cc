package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/drblury/luaflow/internal/runtime/codec"
	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
	"github.com/drblury/luaflow/internal/runtime/script"
	"github.com/drblury/luaflow/transport"
)

// Dependencies are the collaborators of a Lua channel. Every field is
// optional.
type Dependencies struct {
	// Registry resolves logic tags and direct masters. The channel and its
	// child register themselves in it.
	Registry *Registry
	// Transports builds bus children, transport.DefaultRegistry when nil.
	Transports *transport.Registry

	Hooks Hooks
	// Middlewares wrap every hook call. Nil selects DefaultMiddlewares.
	Middlewares []HookMiddleware
	Metrics     *Metrics

	// DumpWriter receives dumped messages instead of the logger.
	DumpWriter io.Writer

	// Child replaces the child built from the child url.
	Child Channel
}

// Lua is a channel driven by a Lua script. Depending on the variant it is
// standalone, a prefix or filter over a child channel, or a logic channel
// reacting to tagged channel groups.
type Lua struct {
	base

	conf    *config.Config
	deps    Dependencies
	rootLog logging.ServiceLogger
	fragile bool

	exec executor
	call HookHandler
	dump *dumper

	scheme      *scheme.Scheme
	control     *scheme.Scheme
	childScheme *scheme.Scheme

	sctx *script.Context

	child   Channel
	childCB int

	groups    map[string][]Channel
	tagHooks  map[string]string
	logicCBs  []logicCallback
	forceStop atomic.Bool
}

type logicCallback struct {
	ch Channel
	id int
}

var (
	_ Channel     = (*Lua)(nil)
	_ script.Host = (*Lua)(nil)
)

// New validates conf, loads the schemes and builds the child channel. The
// script is loaded on Open.
func New(conf *config.Config, log logging.ServiceLogger, deps Dependencies) (*Lua, error) {
	if conf == nil {
		return nil, errspkg.Config("new channel", "config is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NopLogger()
	}

	name := conf.Name
	if name == "" {
		name = "lua"
	}

	hooks := deps.Hooks
	mws := deps.Middlewares
	if mws == nil {
		mws = DefaultMiddlewares(log.With(logging.LogFields{"channel": name}))
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		hooks = hooks.Merge(MetricsHooks(deps.Metrics))
		mws = append(mws, MetricsMiddleware(deps.Metrics))
	}

	l := &Lua{
		base:    newBase(name, conf.Props, log, hooks),
		conf:    conf,
		deps:    deps,
		rootLog: log,
		fragile: conf.IsFragile(),
		call:    chainHooks(mws),
	}
	l.self = l
	l.dump = &dumper{mode: conf.Dump, w: deps.DumpWriter, log: l.log}
	l.exec.report = func(err error) {
		l.log.Error("Deferred channel work failed", err, nil)
	}

	var err error
	if l.scheme, err = loadScheme("scheme", conf.Scheme); err != nil {
		return nil, err
	}
	if l.control, err = loadScheme("scheme-control", conf.SchemeControl); err != nil {
		return nil, err
	}
	if l.childScheme, err = loadScheme("scheme-child", conf.SchemeChild); err != nil {
		return nil, err
	}

	if conf.HasChild() {
		if l.child, err = l.buildChild(); err != nil {
			return nil, err
		}
	}

	if deps.Registry != nil {
		if err := deps.Registry.Add(l); err != nil {
			return nil, err
		}
	}
	l.log.Debug("Channel created", logging.LogFields{"variant": string(conf.Variant), "fragile": l.fragile})
	return l, nil
}

func loadScheme(key, url string) (*scheme.Scheme, error) {
	if url == "" {
		return nil, nil
	}
	s, err := scheme.Load(url)
	if err != nil {
		return nil, errspkg.WithOp(key, err)
	}
	return s, nil
}

func (l *Lua) buildChild() (Channel, error) {
	if l.deps.Child != nil {
		return l.deps.Child, nil
	}
	proto, host, params, err := config.SplitURL(l.conf.Child)
	if err != nil {
		return nil, err
	}
	name := params.GetOr("name", l.name+"/child")
	s := l.childScheme
	if url, ok := params.Get("scheme"); ok && url != "" {
		if s, err = loadScheme("child scheme", url); err != nil {
			return nil, err
		}
	}

	var child Channel
	switch proto {
	case config.ChildNull:
		child = NewNull(name, s, l.rootLog)
	case config.ChildDirect:
		d := NewDirect(name, s, l.rootLog)
		if master := params.GetOr("master", host); master != "" {
			if err := l.pairMaster(d, master); err != nil {
				return nil, err
			}
		}
		child = d
	case config.ChildBus:
		child = NewBus(name, l.conf.Bus, s, l.deps.Transports, l.rootLog)
	default:
		return nil, errspkg.Config("child", "unknown child protocol %q", proto)
	}

	if l.deps.Registry != nil {
		if err := l.deps.Registry.Add(child); err != nil {
			return nil, err
		}
	}
	return child, nil
}

func (l *Lua) pairMaster(d *Direct, master string) error {
	if l.deps.Registry == nil {
		return errspkg.Config("child", "direct master %q needs a channel registry", master)
	}
	ch, err := l.deps.Registry.Get(master)
	if err != nil {
		return errspkg.WithOp("child", err)
	}
	peer, ok := ch.(*Direct)
	if !ok {
		return errspkg.Config("child", "master %q is not a direct channel", master)
	}
	Pair(d, peer)
	return nil
}

// submit runs fn on the channel executor.
func (l *Lua) submit(ctx context.Context, fn func(context.Context) error) error {
	return l.exec.run(func() error {
		err := fn(ctx)
		if l.forceStop.Swap(false) {
			l.exec.discard()
			if cerr := l.close(ctx, true); cerr != nil {
				l.log.Error("Immediate close failed", cerr, nil)
			}
		}
		return err
	})
}

func (l *Lua) invoke(ctx context.Context, hook string, m *envelope.Msg, run func(context.Context) script.Result) script.Result {
	return l.call(ctx, HookCall{Channel: l.name, Hook: hook, Msg: m, run: run})
}

// Open loads the script and runs tll_on_open. Channels with a child open it
// with the parameters returned by the hook and become Active with it.
func (l *Lua) Open(ctx context.Context, params *config.Props) error {
	return l.submit(ctx, func(ctx context.Context) error { return l.open(ctx, params) })
}

func (l *Lua) open(ctx context.Context, params *config.Props) error {
	switch l.State() {
	case Closed:
	case Error:
		return fmt.Errorf("%w: channel is in Error state, close it first", errspkg.ErrAlreadyOpen)
	default:
		return errspkg.ErrAlreadyOpen
	}
	if params == nil {
		params = config.NewProps()
	}
	l.openParams.Store(params)
	l.setState(Opening)

	if err := l.load(); err != nil {
		l.setState(Error)
		return err
	}

	var next *config.Props
	res := l.invoke(ctx, script.HookOpen, nil, func(ctx context.Context) script.Result {
		var r script.Result
		next, r = l.sctx.OnOpen(ctx, params)
		return r
	})
	if !res.OK() {
		l.log.Error("Open hook failed", res.Err, nil)
		l.setState(Error)
		return res.Err
	}
	if l.State() != Opening {
		return nil
	}

	if l.child == nil {
		return l.activate(ctx)
	}
	l.childCB = l.child.AddCallback(l.onChild)
	if err := l.child.Open(ctx, next); err != nil {
		l.log.Error("Failed to open child", err, logging.LogFields{"child": l.child.Name()})
		l.setState(Error)
		return err
	}
	return nil
}

// load creates the script context and resolves the logic tags.
func (l *Lua) load() error {
	settings, err := l.conf.CodecSettings()
	if err != nil {
		return err
	}
	mode, err := script.ParseMessageMode(l.conf.MessageMode)
	if err != nil {
		return err
	}
	if l.conf.Variant == config.VariantLogic {
		if err := l.resolveTags(); err != nil {
			return err
		}
	}

	sctx, err := script.New(l, script.Options{
		Code:          l.conf.Code,
		Preload:       l.conf.Preload,
		Path:          l.conf.Path,
		Settings:      settings,
		MessageMode:   mode,
		Scheme:        l.scheme,
		ControlScheme: l.control,
		ChildScheme:   l.childScheme,
	})
	if err != nil {
		return err
	}
	l.sctx = sctx

	switch l.conf.Variant {
	case config.VariantFilter:
		if !sctx.Has(script.HookFilter) {
			return errspkg.Config("filter", "function %s is not defined", script.HookFilter)
		}
	case config.VariantLogic:
		return l.bindTags()
	}
	return nil
}

func (l *Lua) resolveTags() error {
	if l.deps.Registry == nil {
		return errspkg.Config("logic", "tags need a channel registry")
	}
	groups := make(map[string][]Channel, len(l.conf.Tags))
	for tag, names := range l.conf.Tags {
		for _, name := range names {
			ch, err := l.deps.Registry.Get(name)
			if err != nil {
				return errspkg.WithOp("logic tag "+tag, err)
			}
			groups[tag] = append(groups[tag], ch)
		}
	}
	l.groups = groups
	return nil
}

// bindTags checks that every tag has a hook and subscribes to its channels.
// A channel listed under several tags must resolve to the same hook.
func (l *Lua) bindTags() error {
	tags := make([]string, 0, len(l.groups))
	for tag := range l.groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	l.tagHooks = make(map[string]string, len(tags))
	bound := make(map[Channel]string)
	for _, tag := range tags {
		hook := script.HookChannel + "_" + tag
		if !l.sctx.Has(hook) {
			hook = script.HookChannel
		}
		if !l.sctx.Has(hook) {
			return errspkg.Config("logic", "no callback for tag %q: need %s_%s or %s", tag, script.HookChannel, tag, script.HookChannel)
		}
		l.tagHooks[tag] = hook
		for _, ch := range l.groups[tag] {
			if prev, ok := bound[ch]; ok {
				if prev != hook {
					return errspkg.Config("logic", "channel %s has different callbacks: %s and %s", ch.Name(), prev, hook)
				}
				continue
			}
			bound[ch] = hook
			l.log.Debug("Bind channel", logging.LogFields{"tag": tag, "target": ch.Name(), "hook": hook})
			id := ch.AddCallback(l.onLogic(tag))
			l.logicCBs = append(l.logicCBs, logicCallback{ch: ch, id: id})
		}
	}
	return nil
}

func (l *Lua) activate(ctx context.Context) error {
	res := l.invoke(ctx, script.HookActive, nil, l.sctx.OnActive)
	if !res.OK() {
		l.log.Error("Active hook failed", res.Err, nil)
		l.setState(Error)
		return res.Err
	}
	if l.State() != Opening {
		return nil
	}
	l.setState(Active)
	return nil
}

// Close runs tll_on_close and closes the child. With force set inside a
// hook of this channel the close happens right after the hook returns and
// pending work is dropped; otherwise it runs after pending work.
func (l *Lua) Close(ctx context.Context, force bool) error {
	if force && l.exec.busy() {
		l.forceStop.Store(true)
		return l.submit(ctx, func(context.Context) error { return nil })
	}
	return l.submit(ctx, func(ctx context.Context) error { return l.close(ctx, force) })
}

func (l *Lua) close(ctx context.Context, force bool) error {
	if st := l.State(); st == Closed || st == Destroy {
		return nil
	}
	if !force {
		l.setState(Closing)
	}

	if l.sctx != nil {
		if res := l.invoke(ctx, script.HookClose, nil, l.sctx.OnClose); !res.OK() {
			l.log.Warn("Close hook failed", logging.LogFields{"error": res.Err.Error()})
		}
	}

	var errs []error
	if l.child != nil {
		l.child.RemoveCallback(l.childCB)
		if err := l.child.Close(ctx, force); err != nil {
			errs = append(errs, fmt.Errorf("close child %s: %w", l.child.Name(), err))
		}
	}
	for _, cb := range l.logicCBs {
		cb.ch.RemoveCallback(cb.id)
	}
	l.logicCBs = nil
	l.groups = nil

	if l.sctx != nil {
		l.sctx.Close()
		l.sctx = nil
	}
	l.setState(Closed)
	return errors.Join(errs...)
}

// Free closes the channel and removes it and its child from the registry.
func (l *Lua) Free(ctx context.Context) error {
	err := l.Close(ctx, true)
	if l.deps.Registry != nil {
		l.deps.Registry.Remove(l.name)
		if l.child != nil && l.deps.Child == nil {
			l.deps.Registry.Remove(l.child.Name())
		}
	}
	l.setState(Destroy)
	return err
}

// Post hands a message from the parent to the script, or forwards it to the
// child when the variant has no post hook.
func (l *Lua) Post(ctx context.Context, m *envelope.Msg) error {
	if l.State() != Active {
		return errspkg.ErrNotActive
	}
	m = m.Clone()
	return l.submit(ctx, func(ctx context.Context) error { return l.post(ctx, m) })
}

func (l *Lua) post(ctx context.Context, m *envelope.Msg) error {
	if l.State() != Active {
		return errspkg.ErrNotActive
	}
	l.dump.dump(l.name, DirectionPost, m, l.Scheme(m.Type), l.codec())
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordMessage(l.name, DirectionPost)
	}

	hook := script.HookPost
	run := func(ctx context.Context) script.Result { return l.sctx.OnPost(ctx, m, l.scheme) }
	if m.Type == envelope.Control {
		hook = script.HookPostControl
		run = func(ctx context.Context) script.Result { return l.sctx.OnPostControl(ctx, m, l.control) }
	}

	if l.conf.Variant == config.VariantFilter || !l.sctx.Has(hook) {
		if l.child != nil {
			return l.child.Post(ctx, m)
		}
		return fmt.Errorf("%s: post is not supported without %s", l.name, hook)
	}

	if res := l.invoke(ctx, hook, m, run); !res.OK() {
		l.fault(hook, res)
		return res.Err
	}
	return nil
}

func (l *Lua) onChild(_ Channel, m *envelope.Msg) {
	m = m.Clone()
	if err := l.submit(context.Background(), func(ctx context.Context) error { return l.childMessage(ctx, m) }); err != nil {
		l.exec.report(err)
	}
}

func (l *Lua) childMessage(ctx context.Context, m *envelope.Msg) error {
	if m.Type == envelope.State {
		return l.childState(ctx, State(m.MsgID))
	}
	if l.State() != Active {
		return nil
	}
	l.dump.dump(l.name, DirectionReceive, m, l.child.Scheme(m.Type), l.codec())
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordMessage(l.name, DirectionReceive)
	}

	switch m.Type {
	case envelope.Data:
		if l.conf.Variant == config.VariantFilter {
			return l.filter(ctx, m)
		}
		if !l.sctx.Has(script.HookData) {
			return l.Callback(m)
		}
		res := l.invoke(ctx, script.HookData, m, func(ctx context.Context) script.Result {
			return l.sctx.OnData(ctx, m, l.childScheme)
		})
		if !res.OK() {
			l.fault(script.HookData, res)
		}
		return nil
	case envelope.Control:
		if !l.sctx.Has(script.HookControl) {
			return l.Callback(m)
		}
		res := l.invoke(ctx, script.HookControl, m, func(ctx context.Context) script.Result {
			return l.sctx.OnControl(ctx, m, l.child.Scheme(envelope.Control))
		})
		if !res.OK() {
			l.fault(script.HookControl, res)
		}
		return nil
	}
	return l.Callback(m)
}

func (l *Lua) filter(ctx context.Context, m *envelope.Msg) error {
	var pass bool
	res := l.invoke(ctx, script.HookFilter, m, func(ctx context.Context) script.Result {
		var r script.Result
		pass, r = l.sctx.Filter(ctx, m, l.childScheme)
		return r
	})
	if !res.OK() {
		l.fault(script.HookFilter, res)
		return nil
	}
	if pass {
		return l.Callback(m)
	}
	return nil
}

func (l *Lua) childState(ctx context.Context, s State) error {
	switch s {
	case Active:
		if l.State() != Opening {
			return nil
		}
		if err := l.checkChildScheme(); err != nil {
			l.log.Error("Child scheme mismatch", err, logging.LogFields{"child-mode": l.conf.ChildMode})
			l.setState(Error)
			return err
		}
		return l.activate(ctx)
	case Error:
		if st := l.State(); st == Opening || st == Active {
			l.log.Error("Child failed", nil, logging.LogFields{"child": l.child.Name()})
			l.setState(Error)
		}
	case Closed:
		if st := l.State(); st == Opening || st == Active {
			l.log.Info("Child closed", logging.LogFields{"child": l.child.Name()})
			return l.close(ctx, false)
		}
	}
	return nil
}

// checkChildScheme compares the configured scheme-child with the scheme the
// child reports and publishes the effective child scheme. A prefix without
// its own scheme adopts the child scheme.
func (l *Lua) checkChildScheme() error {
	have := l.child.Scheme(envelope.Data)
	if l.childScheme != nil && have != nil && l.childScheme != have {
		relaxed := l.conf.ChildMode == config.ChildRelaxed
		if err := scheme.Compare(l.childScheme, have, relaxed); err != nil {
			return err
		}
	}
	effective := l.childScheme
	if have != nil {
		effective = have
	}
	l.childScheme = effective
	l.sctx.SetChildScheme(effective)
	if l.scheme == nil && effective != nil {
		l.scheme = effective
		l.sctx.SetScheme(effective)
	}
	return nil
}

func (l *Lua) onLogic(tag string) Callback {
	return func(ch Channel, m *envelope.Msg) {
		if m.Type == envelope.State {
			return
		}
		m = m.Clone()
		err := l.submit(context.Background(), func(ctx context.Context) error {
			if l.State() != Active {
				return nil
			}
			hook := l.tagHooks[tag]
			res := l.invoke(ctx, hook, m, func(ctx context.Context) script.Result {
				return l.sctx.OnChannel(ctx, tag, handle{ch}, m, ch.Scheme(m.Type))
			})
			if !res.OK() {
				l.fault(hook, res)
			}
			return nil
		})
		if err != nil {
			l.exec.report(err)
		}
	}
}

// fault applies the fault policy: decode errors and any fault of a fragile
// channel move it to Error, other faults drop the message.
func (l *Lua) fault(hook string, res script.Result) {
	fatal := res.Fatal() || l.fragile
	if l.hooks.OnFault != nil {
		l.hooks.OnFault(FaultEvent{Channel: l.name, Hook: hook, Kind: res.Kind, Err: res.Err, Fatal: fatal})
	}
	fields := logging.LogFields{"hook": hook, "kind": res.Kind.String()}
	if fatal {
		l.log.Error("Hook failed", res.Err, fields)
		l.setState(Error)
		return
	}
	fields["error"] = res.Err.Error()
	l.log.Warn("Hook failed, message dropped", fields)
}

func (l *Lua) codec() *codec.Codec {
	if l.sctx == nil {
		return nil
	}
	return l.sctx.Codec()
}

// Callback emits m to the callbacks of this channel.
func (l *Lua) Callback(m *envelope.Msg) error {
	l.dump.dump(l.name, DirectionEmit, m, l.Scheme(m.Type), l.codec())
	if l.hooks.OnEmit != nil {
		l.hooks.OnEmit(EmitEvent{Channel: l.name, Msg: m})
	}
	l.deliver(m)
	return nil
}

func (l *Lua) Scheme(t envelope.Type) *scheme.Scheme {
	switch t {
	case envelope.Data:
		return l.scheme
	case envelope.Control:
		return l.control
	}
	return nil
}

// Config returns state, init.*, open.*, url.* and, with a child, child.*.
func (l *Lua) Config() *config.Props {
	p := l.configTree()
	p.Merge("url", l.init.Sub("url"))
	if l.child != nil {
		p.Merge("child", l.child.Config())
	}
	return p
}

// Variant returns how the channel is wired.
func (l *Lua) Variant() config.Variant { return l.conf.Variant }

// ChildChannel returns the child channel, nil for variants without one.
func (l *Lua) ChildChannel() Channel { return l.child }

func (l *Lua) Self() script.Channel { return l }

func (l *Lua) Child() script.Channel {
	if l.child == nil {
		return nil
	}
	return handle{l.child}
}

func (l *Lua) Channels() map[string][]script.Channel {
	if l.groups == nil {
		return nil
	}
	out := make(map[string][]script.Channel, len(l.groups))
	for tag, list := range l.groups {
		for _, ch := range list {
			out[tag] = append(out[tag], handle{ch})
		}
	}
	return out
}

func (l *Lua) Logger() logging.ServiceLogger { return l.log }
