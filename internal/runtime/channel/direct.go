package channel

import (
	"context"
	"sync"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Direct is one end of an in-process channel pair. A message posted to one
// end is delivered to the callbacks of the other.
type Direct struct {
	base

	scheme  *scheme.Scheme
	control *scheme.Scheme

	mu   sync.RWMutex
	peer *Direct
}

// NewDirect creates an unpaired endpoint. Posts fail until it is paired
// with Pair.
func NewDirect(name string, s *scheme.Scheme, log logging.ServiceLogger) *Direct {
	d := &Direct{base: newBase(name, nil, log, Hooks{}), scheme: s}
	d.self = d
	return d
}

// Pair connects two endpoints.
func Pair(a, b *Direct) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// SetControlScheme sets the scheme of control messages.
func (d *Direct) SetControlScheme(s *scheme.Scheme) { d.control = s }

// Peer returns the paired endpoint, nil when unpaired.
func (d *Direct) Peer() *Direct {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peer
}

func (d *Direct) Open(_ context.Context, params *config.Props) error {
	if s := d.State(); s != Closed && s != Error {
		return errspkg.ErrAlreadyOpen
	}
	d.openParams.Store(params)
	d.setState(Opening)
	d.setState(Active)
	return nil
}

func (d *Direct) Close(context.Context, bool) error {
	if d.State() == Closed {
		return nil
	}
	d.setState(Closing)
	d.setState(Closed)
	return nil
}

// Post delivers a copy of m to the peer. Both ends must be Active.
func (d *Direct) Post(_ context.Context, m *envelope.Msg) error {
	if d.State() != Active {
		return errspkg.ErrNotActive
	}
	peer := d.Peer()
	if peer == nil || peer.State() != Active {
		return errspkg.WithOp("direct post", errspkg.ErrNotActive)
	}
	peer.deliver(m.Clone())
	return nil
}

func (d *Direct) Scheme(t envelope.Type) *scheme.Scheme {
	switch t {
	case envelope.Data:
		return d.scheme
	case envelope.Control:
		return d.control
	}
	return nil
}

func (d *Direct) Config() *config.Props { return d.configTree() }
