package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Result is the outcome of one hook call. Faults never escape as panics,
// the caller inspects Kind to apply its fault policy.
type Result struct {
	Kind errspkg.Kind
	Err  error
}

// OK reports whether the hook completed without a fault.
func (r Result) OK() bool { return r.Err == nil }

// Fatal reports whether the fault moves the channel to Error regardless of
// the fragile flag.
func (r Result) Fatal() bool { return r.Kind == errspkg.KindDecode }

func (r Result) String() string {
	if r.Err == nil {
		return "ok"
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Err)
}

const faultType = "luaflow.fault"

// fault carries a Go error raised from a primitive through the Lua stack so
// its kind survives the hook boundary.
type fault struct {
	err error
}

func (f *fault) Error() string { return f.err.Error() }

// raise aborts the running Lua function with err.
func raise(L *lua.LState, err error) int {
	ud := L.NewUserData()
	ud.Value = &fault{err: err}
	L.SetMetatable(ud, L.GetTypeMetatable(faultType))
	L.Error(ud, 1)
	return 0
}

func registerFault(L *lua.LState) {
	mt := L.NewTypeMetatable(faultType)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		f, _ := L.CheckUserData(1).Value.(*fault)
		if f == nil {
			L.Push(lua.LString("fault"))
			return 1
		}
		L.Push(lua.LString(f.Error()))
		return 1
	}))
}

// resultOf translates the error of a protected call.
func resultOf(hook string, err error) Result {
	if err == nil {
		return Result{}
	}
	var api *lua.ApiError
	if errors.As(err, &api) {
		if ud, ok := api.Object.(*lua.LUserData); ok {
			if f, ok := ud.Value.(*fault); ok {
				kind := errspkg.KindOf(f.err)
				if kind == errspkg.KindNone || kind == errspkg.KindConfiguration {
					kind = errspkg.KindScript
				}
				return Result{Kind: kind, Err: &errspkg.Error{Kind: kind, Op: hook, Err: f.err}}
			}
		}
	}
	return Result{Kind: errspkg.KindScript, Err: errspkg.Script(hook, err)}
}
