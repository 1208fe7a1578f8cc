package channel

import (
	"context"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Null accepts and drops every post and never produces data.
type Null struct {
	base
	scheme *scheme.Scheme
}

func NewNull(name string, s *scheme.Scheme, log logging.ServiceLogger) *Null {
	n := &Null{base: newBase(name, nil, log, Hooks{}), scheme: s}
	n.self = n
	return n
}

func (n *Null) Open(_ context.Context, params *config.Props) error {
	if s := n.State(); s != Closed && s != Error {
		return errspkg.ErrAlreadyOpen
	}
	n.openParams.Store(params)
	n.setState(Opening)
	n.setState(Active)
	return nil
}

func (n *Null) Close(context.Context, bool) error {
	if n.State() == Closed {
		return nil
	}
	n.setState(Closing)
	n.setState(Closed)
	return nil
}

func (n *Null) Post(context.Context, *envelope.Msg) error {
	if n.State() != Active {
		return errspkg.ErrNotActive
	}
	return nil
}

func (n *Null) Scheme(t envelope.Type) *scheme.Scheme {
	if t == envelope.Data {
		return n.scheme
	}
	return nil
}

func (n *Null) Config() *config.Props { return n.configTree() }
