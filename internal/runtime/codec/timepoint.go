package codec

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	"github.com/drblury/luaflow/internal/runtime/scheme"
)

// TimePoint is a tick count since the Unix epoch in a fixed resolution.
// Integer storage keeps Ticks, double storage sets Float and keeps FTicks.
type TimePoint struct {
	Res    scheme.Resolution
	Ticks  int64
	FTicks float64
	Float  bool
}

// NewTimePoint builds a nanosecond time point from UTC calendar components.
// Dates outside the nanosecond int64 range fall back to microseconds,
// milliseconds and seconds in turn.
func NewTimePoint(year, month, day, hour, minute, sec, nsec int) TimePoint {
	t := time.Date(year, time.Month(month), day, hour, minute, sec, nsec, time.UTC)
	r := new(big.Rat).SetFrac(big.NewInt(t.Unix()), big.NewInt(1))
	r.Add(r, big.NewRat(int64(t.Nanosecond()), 1_000_000_000))
	for _, res := range []scheme.Resolution{scheme.Nanosecond, scheme.Microsecond, scheme.Millisecond, scheme.Second} {
		ticks := ratTicks(r, res)
		if ticks.IsInt64() {
			return TimePoint{Res: res, Ticks: ticks.Int64()}
		}
	}
	return TimePoint{Res: scheme.Second, Ticks: t.Unix()}
}

// FromTime converts a time.Time to a nanosecond time point.
func FromTime(t time.Time) TimePoint {
	return TimePoint{Res: scheme.Nanosecond, Ticks: t.UnixNano()}
}

// Rat returns the exact number of seconds since epoch.
func (t TimePoint) Rat() *big.Rat {
	var r *big.Rat
	if t.Float {
		r = new(big.Rat)
		if r.SetFloat64(t.FTicks) == nil {
			r.SetInt64(0)
		}
	} else {
		r = new(big.Rat).SetInt64(t.Ticks)
	}
	return r.Mul(r, big.NewRat(t.Res.Num, t.Res.Den))
}

// Seconds returns the time point as floating point seconds.
func (t TimePoint) Seconds() float64 {
	if t.Float {
		return t.FTicks * float64(t.Res.Num) / float64(t.Res.Den)
	}
	s, _ := t.Rat().Float64()
	return s
}

// Int returns the raw tick count.
func (t TimePoint) Int() int64 {
	if t.Float {
		return int64(t.FTicks)
	}
	return t.Ticks
}

// Time converts the time point to a UTC time.Time.
func (t TimePoint) Time() time.Time {
	ns := ratTicks(t.Rat(), scheme.Nanosecond)
	sec, frac := new(big.Int).DivMod(ns, big.NewInt(1_000_000_000), new(big.Int))
	return time.Unix(sec.Int64(), frac.Int64()).UTC()
}

// Date returns the calendar date as YYYYMMDD.
func (t TimePoint) Date() int64 {
	tm := t.Time()
	return int64(tm.Year())*10000 + int64(tm.Month())*100 + int64(tm.Day())
}

// String renders ISO-8601 text with as many fractional digits as the
// resolution carries. Day resolution renders the date only.
func (t TimePoint) String() string {
	tm := t.Time()
	if t.Res == scheme.Day {
		return tm.Format("2006-01-02")
	}
	s := tm.Format("2006-01-02T15:04:05")
	if digits := fracDigits(t.Res); digits > 0 {
		frac := strconv.FormatInt(int64(tm.Nanosecond())+1_000_000_000, 10)[1:]
		s += "." + frac[:digits]
	}
	return s
}

// Compare orders two time points exactly, regardless of resolution.
func (t TimePoint) Compare(o TimePoint) int { return t.Rat().Cmp(o.Rat()) }

// Convert returns the time point in resolution res. Digits below res are
// floored under OverflowTrim and rejected under OverflowError.
func (t TimePoint) Convert(res scheme.Resolution, policy Overflow) (TimePoint, error) {
	if t.Float {
		return TimePoint{Res: res, Float: true, FTicks: t.FTicks * float64(t.Res.Num*res.Den) / float64(t.Res.Den*res.Num)}, nil
	}
	ticks, err := ratToTicks(t.Rat(), res, policy)
	if err != nil {
		return TimePoint{}, err
	}
	if !ticks.IsInt64() {
		return TimePoint{}, errspkg.Encode("time point %s out of range in %s resolution", t, res.Name)
	}
	return TimePoint{Res: res, Ticks: ticks.Int64()}, nil
}

func fracDigits(res scheme.Resolution) int {
	switch res {
	case scheme.Nanosecond:
		return 9
	case scheme.Microsecond:
		return 6
	case scheme.Millisecond:
		return 3
	}
	return 0
}

// ratTicks floors seconds to ticks of res.
func ratTicks(r *big.Rat, res scheme.Resolution) *big.Int {
	n := new(big.Int).Mul(r.Num(), big.NewInt(res.Den))
	d := new(big.Int).Mul(r.Denom(), big.NewInt(res.Num))
	return n.Div(n, d)
}

func ratToTicks(r *big.Rat, res scheme.Resolution, policy Overflow) (*big.Int, error) {
	n := new(big.Int).Mul(r.Num(), big.NewInt(res.Den))
	d := new(big.Int).Mul(r.Denom(), big.NewInt(res.Num))
	q, m := new(big.Int).DivMod(n, d, new(big.Int))
	if m.Sign() != 0 && policy != OverflowTrim {
		f, _ := r.Float64()
		return nil, errspkg.Encode("time value %v s is not a whole number of %s", f, res.Name)
	}
	return q, nil
}

// ParseTime parses "YYYY-MM-DD", "YYYY-MM-DDTHH:MM:SS[.frac]" (a space may
// replace the T, a trailing Z is accepted) into exact seconds.
func ParseTime(s string) (*big.Rat, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s, frac = s[:i], s[i+1:]
	}
	var (
		tm  time.Time
		err error
	)
	switch {
	case len(s) == len("2006-01-02"):
		tm, err = time.Parse("2006-01-02", s)
	case strings.Contains(s, "T"):
		tm, err = time.Parse("2006-01-02T15:04:05", s)
	default:
		tm, err = time.Parse("2006-01-02 15:04:05", s)
	}
	if err != nil {
		return nil, errspkg.Encode("invalid time string %q", s)
	}
	r := new(big.Rat).SetInt64(tm.Unix())
	if frac != "" {
		if len(frac) > 9 || strings.Trim(frac, "0123456789") != "" {
			return nil, errspkg.Encode("invalid time fraction %q", frac)
		}
		n, _ := strconv.ParseInt(frac, 10, 64)
		r.Add(r, new(big.Rat).SetFrac(big.NewInt(n), pow10(len(frac))))
	}
	return r, nil
}

// timeSeconds converts a script value to exact seconds since epoch. Integers
// and floats are seconds, strings are ISO-8601 text.
func timeSeconds(v any) (*big.Rat, error) {
	switch x := v.(type) {
	case TimePoint:
		return x.Rat(), nil
	case string:
		return ParseTime(x)
	case float64, float32:
		f, _ := toFloat(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errspkg.Encode("non-finite time value %v", f)
		}
		m, e, err := parseDecimal(strconv.FormatFloat(f, 'g', -1, 64))
		if err != nil {
			return nil, err
		}
		return decimalRat(m, e), nil
	}
	n, err := toInteger(v)
	if err != nil {
		return nil, errspkg.Encode("expected time point, got %s", typeName(v))
	}
	if n.big {
		return nil, errspkg.Encode("time value %s out of range", n)
	}
	r := new(big.Rat).SetUint64(n.mag)
	if n.neg {
		r.Neg(r)
	}
	return r, nil
}

func decimalRat(m *big.Int, exp int) *big.Rat {
	if exp >= 0 {
		return new(big.Rat).SetInt(new(big.Int).Mul(m, pow10(exp)))
	}
	return new(big.Rat).SetFrac(m, pow10(-exp))
}

func ratOf(num, den int64) *big.Rat { return big.NewRat(num, den) }
