package codec

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/drblury/luaflow/internal/runtime/scheme"
)

type tombstone struct{}

// Tombstone marks an optional field as provided without setting its presence
// bit.
var Tombstone any = tombstone{}

// IsTombstone reports whether v is the Tombstone sentinel.
func IsTombstone(v any) bool {
	_, ok := v.(tombstone)
	return ok
}

// Enum is a decoded enum value bound to its definition.
type Enum struct {
	Desc  *scheme.Enum
	Value int64
}

// Name returns the symbolic name of the value.
func (e Enum) Name() string {
	n, _ := e.Desc.NameOf(e.Value)
	return n
}

func (e Enum) String() string { return e.Name() }

// Eq compares the value with a symbol name, an integer or another Enum.
func (e Enum) Eq(x any) bool {
	switch v := x.(type) {
	case string:
		return e.Name() == v
	case Enum:
		return e.Name() == v.Name()
	}
	n, err := toInteger(x)
	if err != nil {
		return false
	}
	return n.equalInt64(e.Value)
}

// Bits is a decoded bitset bound to its definition.
type Bits struct {
	Desc  *scheme.Bits
	Value uint64
}

// Get returns the value of the named bit range: a bool for single bits and
// the shifted integer for wider ranges.
func (b Bits) Get(name string) (any, bool) {
	bf, ok := b.Desc.Lookup(name)
	if !ok {
		return nil, false
	}
	if bf.Size == 1 {
		return b.Value&bf.Mask() != 0, true
	}
	return (b.Value & bf.Mask()) >> bf.Offset, true
}

// Has reports whether any bit of the named range is set.
func (b Bits) Has(name string) bool {
	bf, ok := b.Desc.Lookup(name)
	return ok && b.Value&bf.Mask() != 0
}

// Names returns the names of the set ranges in definition order.
func (b Bits) Names() []string {
	var out []string
	for _, bf := range b.Desc.Fields {
		if b.Value&bf.Mask() != 0 {
			out = append(out, bf.Name)
		}
	}
	return out
}

func (b Bits) String() string { return strings.Join(b.Names(), "|") }

func (b Bits) And(x uint64) Bits { return Bits{Desc: b.Desc, Value: b.Value & x} }
func (b Bits) Or(x uint64) Bits  { return Bits{Desc: b.Desc, Value: b.Value | x} }
func (b Bits) Xor(x uint64) Bits { return Bits{Desc: b.Desc, Value: b.Value ^ x} }

// Fixed is a scaled decimal: Mantissa * 10^-Precision.
type Fixed struct {
	Mantissa  int64
	Precision int
}

func (f Fixed) Float64() float64 {
	return float64(f.Mantissa) / math.Pow10(f.Precision)
}

// String renders the exact decimal value without trailing zeros.
func (f Fixed) String() string {
	neg := f.Mantissa < 0
	digits := strconv.FormatUint(absUint64(f.Mantissa), 10)
	if f.Precision > 0 {
		if len(digits) <= f.Precision {
			digits = strings.Repeat("0", f.Precision-len(digits)+1) + digits
		}
		point := len(digits) - f.Precision
		frac := strings.TrimRight(digits[point:], "0")
		digits = digits[:point]
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func (f Fixed) decimal() (*big.Int, int) {
	return big.NewInt(f.Mantissa), -f.Precision
}

// Decimal128 is an IEEE 754-2008 BID decimal.
type Decimal128 struct {
	V primitive.Decimal128
}

// ParseDecimal128 parses a decimal string.
func ParseDecimal128(s string) (Decimal128, error) {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		return Decimal128{}, err
	}
	return Decimal128{V: d}, nil
}

func (d Decimal128) String() string { return d.V.String() }

func (d Decimal128) Float64() float64 {
	f, err := strconv.ParseFloat(d.V.String(), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Int64 truncates the value toward zero.
func (d Decimal128) Int64() (int64, bool) {
	m, exp, err := d.V.BigInt()
	if err != nil {
		return 0, false
	}
	v := scaleBig(m, exp, 0)
	if !v.IsInt64() {
		return 0, false
	}
	return v.Int64(), true
}

func absUint64(v int64) uint64 {
	if v < 0 {
		return uint64(^v) + 1
	}
	return uint64(v)
}

// scaleBig returns m*10^exp rescaled to 10^-prec, truncated toward zero.
func scaleBig(m *big.Int, exp, prec int) *big.Int {
	shift := exp + prec
	out := new(big.Int).Set(m)
	if shift >= 0 {
		return out.Mul(out, pow10(shift))
	}
	return out.Quo(out, pow10(-shift))
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func decimalFromBig(m *big.Int, exp int) (Decimal128, bool) {
	d, ok := primitive.ParseDecimal128FromBigInt(m, exp)
	return Decimal128{V: d}, ok
}
