// Package channel implements the lifecycle controller of lua channels and
// the child channels they drive: in-process direct pairs, a null sink and
// the watermill backed bus.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Callback receives messages emitted by a channel. State changes arrive as
// messages of type envelope.State with the new State in MsgID.
type Callback func(ch Channel, m *envelope.Msg)

// Channel is the common surface of every channel.
type Channel interface {
	Name() string
	State() State
	Open(ctx context.Context, params *config.Props) error
	// Close with force set skips draining when called from a hook of the
	// channel itself.
	Close(ctx context.Context, force bool) error
	Post(ctx context.Context, m *envelope.Msg) error
	// Scheme returns the data or control scheme, nil when there is none.
	Scheme(t envelope.Type) *scheme.Scheme
	// Config is a snapshot of the channel config tree.
	Config() *config.Props
	// AddCallback returns an id for RemoveCallback.
	AddCallback(cb Callback) int
	RemoveCallback(id int)
}

type callbackEntry struct {
	id int
	cb Callback
}

// base holds the state, callbacks and init props shared by all channels.
type base struct {
	name  string
	self  Channel
	log   logging.ServiceLogger
	hooks Hooks

	state atomic.Int32

	cbMu      sync.Mutex
	callbacks []callbackEntry
	nextID    int

	init *config.Props
	// openParams is written on open and read by Config from any goroutine.
	openParams atomic.Pointer[config.Props]
}

func newBase(name string, init *config.Props, log logging.ServiceLogger, hooks Hooks) base {
	if init == nil {
		init = config.NewProps()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return base{
		name:  name,
		log:   log.With(logging.LogFields{"channel": name}),
		hooks: hooks,
		init:  init,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) State() State { return State(b.state.Load()) }

// StateName is State().String(), as exposed to scripts.
func (b *base) StateName() string { return b.State().String() }

func (b *base) AddCallback(cb Callback) int {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.nextID++
	b.callbacks = append(b.callbacks, callbackEntry{id: b.nextID, cb: cb})
	return b.nextID
}

func (b *base) RemoveCallback(id int) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	for i, e := range b.callbacks {
		if e.id == id {
			b.callbacks = append(b.callbacks[:i:i], b.callbacks[i+1:]...)
			return
		}
	}
}

// deliver hands m to every callback registered at the time of the call.
func (b *base) deliver(m *envelope.Msg) {
	b.cbMu.Lock()
	cbs := make([]callbackEntry, len(b.callbacks))
	copy(cbs, b.callbacks)
	b.cbMu.Unlock()
	for _, e := range cbs {
		e.cb(b.self, m)
	}
}

func (b *base) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old == s {
		return
	}
	b.log.Debug("State change", logging.LogFields{"from": old.String(), "to": s.String()})
	if b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(StateEvent{Channel: b.name, From: old, To: s, At: time.Now()})
	}
	b.deliver(&envelope.Msg{Type: envelope.State, MsgID: int32(s)})
}

// configTree renders the derived config keys: state, init.* and open.*.
func (b *base) configTree() *config.Props {
	p := config.NewProps("state", b.State().String())
	p.Merge("init", b.init)
	if params := b.openParams.Load(); params != nil {
		p.Merge("open", params)
	}
	return p
}

// handle adapts a Channel to the handle interface seen by scripts.
type handle struct {
	Channel
}

func (h handle) StateName() string { return h.State().String() }
