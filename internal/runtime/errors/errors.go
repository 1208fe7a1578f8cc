package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfiguration = sterrors.New("luaflow: configuration error")
	ErrDecode        = sterrors.New("luaflow: decode error")
	ErrEncode        = sterrors.New("luaflow: encode error")
	ErrScriptFault   = sterrors.New("luaflow: script fault")

	ErrCodeRequired    = sterrors.New("luaflow: script code is required")
	ErrSchemeRequired  = sterrors.New("luaflow: scheme is required")
	ErrChildRequired   = sterrors.New("luaflow: child channel is required")
	ErrNotActive       = sterrors.New("luaflow: channel is not active")
	ErrAlreadyOpen     = sterrors.New("luaflow: channel is already open")
	ErrLoggerRequired  = sterrors.New("luaflow: logger is required")
	ErrUnknownMessage  = sterrors.New("luaflow: unknown message")
	ErrChannelNotFound = sterrors.New("luaflow: channel not found")
)

// Kind classifies a fault so the channel fault policy can act on it.
type Kind int

const (
	KindNone Kind = iota
	KindConfiguration
	KindDecode
	KindEncode
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindScript:
		return "script"
	default:
		return "none"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindDecode:
		return ErrDecode
	case KindEncode:
		return ErrEncode
	case KindScript:
		return ErrScriptFault
	default:
		return nil
	}
}

// Error carries a fault kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel error of the kind, so errors.Is(err, ErrDecode) works
// for any decode error regardless of its cause.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Config builds a configuration error.
func Config(op string, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Decode builds a decode error.
func Decode(format string, args ...any) error {
	return &Error{Kind: KindDecode, Err: fmt.Errorf(format, args...)}
}

// Encode builds an encode error.
func Encode(format string, args ...any) error {
	return &Error{Kind: KindEncode, Err: fmt.Errorf(format, args...)}
}

// Script wraps an error raised inside a script hook.
func Script(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindScript, Op: op, Err: err}
}

// WithOp prefixes err with op keeping its kind. Nested Error values are
// flattened so the kind of the innermost fault survives.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf reports the kind of the outermost Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if sterrors.As(err, &e) {
		if e.Kind != KindNone {
			return e.Kind
		}
		return KindOf(e.Err)
	}
	return KindNone
}

// ConfigValidationError wraps aggregated configuration problems.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "luaflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

func (e ConfigValidationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigValidationError wraps err, returning nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
