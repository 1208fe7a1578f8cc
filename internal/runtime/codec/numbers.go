package codec

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/msgbuf"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// integer is a sign and magnitude pair wide enough for every int64 and
// uint64 value. big marks magnitudes that did not fit in 64 bits.
type integer struct {
	neg bool
	mag uint64
	big bool
}

func (n integer) String() string {
	if n.big {
		if n.neg {
			return "-inf"
		}
		return "inf"
	}
	s := strconv.FormatUint(n.mag, 10)
	if n.neg && n.mag != 0 {
		return "-" + s
	}
	return s
}

func (n integer) equalInt64(v int64) bool {
	if n.big {
		return false
	}
	if v < 0 {
		return n.neg && n.mag == absUint64(v)
	}
	return (!n.neg || n.mag == 0) && n.mag == uint64(v)
}

func fromInt64(v int64) integer { return integer{neg: v < 0, mag: absUint64(v)} }

func fromBig(v *big.Int) integer {
	n := integer{neg: v.Sign() < 0}
	abs := new(big.Int).Abs(v)
	if !abs.IsUint64() {
		n.big = true
		n.mag = math.MaxUint64
		return n
	}
	n.mag = abs.Uint64()
	return n
}

// toInteger accepts Go integers, integral floats and integer handles.
func toInteger(v any) (integer, error) {
	switch x := v.(type) {
	case int:
		return fromInt64(int64(x)), nil
	case int8:
		return fromInt64(int64(x)), nil
	case int16:
		return fromInt64(int64(x)), nil
	case int32:
		return fromInt64(int64(x)), nil
	case int64:
		return fromInt64(x), nil
	case uint:
		return integer{mag: uint64(x)}, nil
	case uint8:
		return integer{mag: uint64(x)}, nil
	case uint16:
		return integer{mag: uint64(x)}, nil
	case uint32:
		return integer{mag: uint64(x)}, nil
	case uint64:
		return integer{mag: x}, nil
	case float32:
		return floatInteger(float64(x))
	case float64:
		return floatInteger(x)
	case bool:
		if x {
			return integer{mag: 1}, nil
		}
		return integer{}, nil
	case Enum:
		return fromInt64(x.Value), nil
	case Bits:
		return integer{mag: x.Value}, nil
	}
	return integer{}, errspkg.Encode("expected integer, got %s", typeName(v))
}

func floatInteger(x float64) (integer, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Trunc(x) != x {
		return integer{}, errspkg.Encode("non-integer value %v", x)
	}
	n := integer{neg: x < 0}
	a := math.Abs(x)
	if a >= 1<<64 {
		n.big = true
		n.mag = math.MaxUint64
		return n, nil
	}
	n.mag = uint64(a)
	return n, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case Fixed:
		return x.Float64(), nil
	case Decimal128:
		return x.Float64(), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errspkg.Encode("invalid number %q", x)
		}
		return f, nil
	}
	n, err := toInteger(v)
	if err != nil {
		return 0, errspkg.Encode("expected number, got %s", typeName(v))
	}
	f := float64(n.mag)
	if n.neg {
		f = -f
	}
	return f, nil
}

// putInt stores n into an integer field applying the overflow policy.
func putInt(b *msgbuf.Builder, off int, t scheme.Type, n integer, policy Overflow) error {
	if t.IsSigned() {
		lo, hi := scheme.IntRange(t)
		var v int64
		switch {
		case n.neg && (n.big || n.mag > absUint64(lo)):
			if policy != OverflowTrim {
				return errspkg.Encode("value %s out of %s range", n, t)
			}
			v = lo
		case !n.neg && (n.big || n.mag > uint64(hi)):
			if policy != OverflowTrim {
				return errspkg.Encode("value %s out of %s range", n, t)
			}
			v = hi
		case n.neg:
			v = int64(^n.mag + 1)
		default:
			v = int64(n.mag)
		}
		b.PutUint(off, t.IntSize(), uint64(v))
		return nil
	}

	limit := scheme.UintMax(t)
	v := n.mag
	switch {
	case n.neg && n.mag != 0:
		if policy != OverflowTrim {
			return errspkg.Encode("negative value %s for %s", n, t)
		}
		v = 0
	case n.big || n.mag > limit:
		if policy != OverflowTrim {
			return errspkg.Encode("value %s out of %s range", n, t)
		}
		v = limit
	}
	b.PutUint(off, t.IntSize(), v)
	return nil
}

// toDecimal returns v as m*10^exp. Floats use their shortest exact decimal
// form so 123.456 stays 123456e-3.
func toDecimal(v any) (*big.Int, int, error) {
	switch x := v.(type) {
	case Fixed:
		m, e := x.decimal()
		return m, e, nil
	case Decimal128:
		m, e, err := x.V.BigInt()
		if err != nil {
			return nil, 0, errspkg.Encode("decimal %s is not finite", x)
		}
		return m, e, nil
	case string:
		return parseDecimal(x)
	case float64, float32:
		f, _ := toFloat(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, 0, errspkg.Encode("non-finite value %v", f)
		}
		return parseDecimal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	n, err := toInteger(v)
	if err != nil {
		return nil, 0, errspkg.Encode("expected decimal, got %s", typeName(v))
	}
	if n.big {
		return nil, 0, errspkg.Encode("value %s too large", n)
	}
	m := new(big.Int).SetUint64(n.mag)
	if n.neg {
		m.Neg(m)
	}
	return m, 0, nil
}

func parseDecimal(s string) (*big.Int, int, error) {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		return nil, 0, errspkg.Encode("invalid decimal %q", s)
	}
	m, e, err := d.BigInt()
	if err != nil {
		return nil, 0, errspkg.Encode("decimal %q is not finite", s)
	}
	return m, e, nil
}

// rescale converts m*10^exp to an integer count of 10^-prec units. When
// digits below the scale are lost round selects half away from zero
// rounding, otherwise the overflow policy decides between an error and
// truncation toward zero.
func rescale(m *big.Int, exp, prec int, round bool, policy Overflow) (*big.Int, error) {
	shift := exp + prec
	if shift >= 0 {
		return new(big.Int).Mul(m, pow10(shift)), nil
	}
	d := pow10(-shift)
	q, r := new(big.Int).QuoRem(m, d, new(big.Int))
	if r.Sign() == 0 {
		return q, nil
	}
	if round {
		twice := new(big.Int).Abs(r)
		twice.Lsh(twice, 1)
		if twice.Cmp(d) >= 0 {
			q.Add(q, big.NewInt(int64(m.Sign())))
		}
		return q, nil
	}
	if policy == OverflowTrim {
		return q, nil
	}
	return nil, errspkg.Encode("value %se%d does not fit %d decimal digits", m, exp, prec)
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
