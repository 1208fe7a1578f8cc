package script

import (
	"context"

	"github.com/drblury/luaflow/internal/runtime/config"
	"github.com/drblury/luaflow/internal/runtime/envelope"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// Channel is the view of a channel handed to scripts as a handle object.
type Channel interface {
	Name() string
	StateName() string
	Post(ctx context.Context, m *envelope.Msg) error
	Scheme(t envelope.Type) *scheme.Scheme
	Config() *config.Props
	Open(ctx context.Context, params *config.Props) error
	Close(ctx context.Context, force bool) error
}

// Host is implemented by the channel that owns a Context.
type Host interface {
	// Self is the owning channel.
	Self() Channel
	// Child is the data child, nil for channels without one.
	Child() Channel
	// Channels returns the tagged channel groups of a logic channel.
	Channels() map[string][]Channel
	// Callback delivers a message produced by tll_callback.
	Callback(m *envelope.Msg) error
	Logger() logging.ServiceLogger
}
