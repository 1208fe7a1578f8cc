package channel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/script"
)

// HookCall describes one script hook invocation passing through the
// middleware chain.
type HookCall struct {
	Channel string
	Hook    string
	// Msg is the message handed to the hook, nil for lifecycle hooks.
	Msg *envelope.Msg

	run func(ctx context.Context) script.Result
}

// HookHandler executes a hook call.
type HookHandler func(ctx context.Context, call HookCall) script.Result

// HookMiddleware wraps a HookHandler.
type HookMiddleware func(next HookHandler) HookHandler

// DefaultMiddlewares returns the standard chain used when Dependencies
// leaves Middlewares nil.
func DefaultMiddlewares(log logging.ServiceLogger) []HookMiddleware {
	return []HookMiddleware{
		RecovererMiddleware(),
		TracerMiddleware(),
		LogHooksMiddleware(log),
	}
}

func invoke(ctx context.Context, call HookCall) script.Result {
	return call.run(ctx)
}

// chainHooks applies middlewares so that the first one is the outermost.
func chainHooks(mws []HookMiddleware) HookHandler {
	h := HookHandler(invoke)
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// RecovererMiddleware turns a Go panic inside a hook into a Script fault.
func RecovererMiddleware() HookMiddleware {
	return func(next HookHandler) HookHandler {
		return func(ctx context.Context, call HookCall) (res script.Result) {
			defer func() {
				if r := recover(); r != nil {
					err := errspkg.Script(call.Hook, fmt.Errorf("panic: %v", r))
					res = script.Result{Kind: errspkg.KindScript, Err: err}
				}
			}()
			return next(ctx, call)
		}
	}
}

// TracerMiddleware wraps each hook call in an OpenTelemetry span.
func TracerMiddleware() HookMiddleware {
	return func(next HookHandler) HookHandler {
		return func(ctx context.Context, call HookCall) script.Result {
			tracer := otel.Tracer("luaflow")
			ctx, span := tracer.Start(ctx, call.Hook)
			defer span.End()

			span.SetAttributes(attribute.String("channel.name", call.Channel))
			if call.Msg != nil {
				span.SetAttributes(
					attribute.String("message.type", call.Msg.Type.String()),
					attribute.Int64("message.msgid", int64(call.Msg.MsgID)),
					attribute.Int64("message.seq", call.Msg.Seq),
				)
			}
			res := next(ctx, call)
			if !res.OK() {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Kind.String())
			}
			return res
		}
	}
}

// LogHooksMiddleware logs every hook call at trace level.
func LogHooksMiddleware(log logging.ServiceLogger) HookMiddleware {
	return func(next HookHandler) HookHandler {
		if log == nil {
			return next
		}
		return func(ctx context.Context, call HookCall) script.Result {
			start := time.Now()
			res := next(ctx, call)
			fields := logging.LogFields{
				"channel":  call.Channel,
				"hook":     call.Hook,
				"result":   res.String(),
				"duration": time.Since(start).String(),
			}
			if call.Msg != nil {
				fields["msgid"] = call.Msg.MsgID
				fields["seq"] = call.Msg.Seq
			}
			log.Trace("Hook call", fields)
			return res
		}
	}
}

// MetricsMiddleware records hook counts and durations.
func MetricsMiddleware(m *Metrics) HookMiddleware {
	return func(next HookHandler) HookHandler {
		return func(ctx context.Context, call HookCall) script.Result {
			start := time.Now()
			res := next(ctx, call)
			m.RecordHook(call.Channel, call.Hook, time.Since(start), res.OK())
			return res
		}
	}
}
