package channel

import (
	"time"

	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
)

// StateEvent describes a state transition.
type StateEvent struct {
	Channel string
	From    State
	To      State
	At      time.Time
}

// FaultEvent describes a failed hook call.
type FaultEvent struct {
	Channel string
	Hook    string
	Kind    errspkg.Kind
	Err     error
	// Fatal is set when the fault moved the channel to Error.
	Fatal bool
}

// EmitEvent describes a message emitted to the callbacks of a channel.
type EmitEvent struct {
	Channel string
	Msg     *envelope.Msg
}

// Hooks defines observer callbacks for channel events.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnStateChange is called after every state transition.
	OnStateChange func(ev StateEvent)

	// OnFault is called when a script hook fails, before the fault policy
	// is applied to the channel state.
	OnFault func(ev FaultEvent)

	// OnEmit is called for each message a script emits to the parent.
	OnEmit func(ev EmitEvent)
}

// Merge combines two Hooks, creating a new Hooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStateChange: chain(h.OnStateChange, other.OnStateChange),
		OnFault:       chain(h.OnFault, other.OnFault),
		OnEmit:        chain(h.OnEmit, other.OnEmit),
	}
}

func chain[E any](a, b func(E)) func(E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ev E) {
		a(ev)
		b(ev)
	}
}

// LoggingHooks returns pre-built hooks that log channel events.
func LoggingHooks(logger logging.ServiceLogger) Hooks {
	return Hooks{
		OnStateChange: func(ev StateEvent) {
			logger.Info("Channel state changed", logging.LogFields{
				"channel": ev.Channel,
				"from":    ev.From.String(),
				"to":      ev.To.String(),
			})
		},
		OnFault: func(ev FaultEvent) {
			logger.Error("Channel hook failed", ev.Err, logging.LogFields{
				"channel": ev.Channel,
				"hook":    ev.Hook,
				"kind":    ev.Kind.String(),
				"fatal":   ev.Fatal,
			})
		},
		OnEmit: func(ev EmitEvent) {
			logger.Trace("Channel emitted message", logging.LogFields{
				"channel": ev.Channel,
				"type":    ev.Msg.Type.String(),
				"msgid":   ev.Msg.MsgID,
				"seq":     ev.Msg.Seq,
				"size":    len(ev.Msg.Data),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record channel metrics.
func MetricsHooks(m *Metrics) Hooks {
	return Hooks{
		OnStateChange: func(ev StateEvent) {
			m.RecordState(ev.Channel, ev.To)
		},
		OnFault: func(ev FaultEvent) {
			m.RecordFault(ev.Channel, ev.Kind)
		},
		OnEmit: func(ev EmitEvent) {
			m.RecordMessage(ev.Channel, DirectionEmit)
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on faults that
// moved a channel to Error.
func AlertingHooks(alert func(ev FaultEvent)) Hooks {
	return Hooks{
		OnFault: func(ev FaultEvent) {
			if ev.Fatal {
				alert(ev)
			}
		},
	}
}
