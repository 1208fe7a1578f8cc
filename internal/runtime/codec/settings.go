// Package codec converts message fields between their binary layout and
// sandbox neutral Go values under configurable representation modes.
package codec

import (
	"fmt"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Mode selects how a decoded value of one type category is presented.
type Mode int

const (
	ModeDefault Mode = iota
	ModeInt
	ModeFloat
	ModeString
	ModeObject
)

func (m Mode) String() string {
	switch m {
	case ModeInt:
		return "int"
	case ModeFloat:
		return "float"
	case ModeString:
		return "string"
	case ModeObject:
		return "object"
	}
	return ""
}

// ParseMode parses a representation mode. The empty string is ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "default":
		return ModeDefault, nil
	case "int":
		return ModeInt, nil
	case "float":
		return ModeFloat, nil
	case "string":
		return ModeString, nil
	case "object":
		return ModeObject, nil
	}
	return ModeDefault, fmt.Errorf("unknown representation mode %q", s)
}

// Overflow is the policy applied when a value does not fit its field.
type Overflow int

const (
	OverflowError Overflow = iota
	OverflowTrim
)

func (o Overflow) String() string {
	if o == OverflowTrim {
		return "trim"
	}
	return "error"
}

func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "error":
		return OverflowError, nil
	case "trim":
		return OverflowTrim, nil
	}
	return OverflowError, fmt.Errorf("unknown overflow mode %q", s)
}

// PMapMode controls how absent optional fields are decoded.
type PMapMode int

const (
	PMapEnable PMapMode = iota
	PMapDisable
)

func (p PMapMode) String() string {
	if p == PMapDisable {
		return "disable"
	}
	return "enable"
}

func ParsePMapMode(s string) (PMapMode, error) {
	switch s {
	case "", "enable":
		return PMapEnable, nil
	case "disable":
		return PMapDisable, nil
	}
	return PMapEnable, fmt.Errorf("unknown pmap mode %q", s)
}

// Settings is the complete codec policy of one channel.
type Settings struct {
	Enum       Mode
	Bits       Mode
	Fixed      Mode
	Decimal128 Mode
	Time       Mode
	Overflow   Overflow
	PMap       PMapMode
}

// Preset returns the named mode preset. The empty name is "convert".
func Preset(name string) (Settings, error) {
	switch name {
	case "", "convert":
		return Settings{Enum: ModeString, Bits: ModeObject, Fixed: ModeObject, Decimal128: ModeObject, Time: ModeObject}, nil
	case "filter":
		return Settings{Enum: ModeString, Bits: ModeObject, Fixed: ModeFloat, Decimal128: ModeFloat, Time: ModeObject}, nil
	case "convert-fast":
		return Settings{Enum: ModeInt, Bits: ModeInt, Fixed: ModeInt, Decimal128: ModeObject, Time: ModeInt}, nil
	}
	return Settings{}, errspkg.Config("preset", "unknown preset %q", name)
}

// Resolved replaces unset modes with the per category defaults.
func (s Settings) Resolved() Settings {
	if s.Enum == ModeDefault {
		s.Enum = ModeObject
	}
	if s.Bits == ModeDefault {
		s.Bits = ModeObject
	}
	if s.Time == ModeDefault {
		s.Time = ModeObject
	}
	if s.Fixed == ModeDefault {
		s.Fixed = ModeFloat
	}
	if s.Decimal128 == ModeDefault {
		s.Decimal128 = ModeFloat
	}
	return s
}
