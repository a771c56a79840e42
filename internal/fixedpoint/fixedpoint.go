// Package fixedpoint implements scaled decimal arithmetic for prices and
// quantities. Every computation that feeds a detector threshold, ratio,
// mean or z-score goes through this type; float64 is only allowed at the
// boundary where external input is parsed or output is rendered.
package fixedpoint

import (
	"database/sql/driver"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Value wraps shopspring/decimal.Decimal, which is itself a scaled
// big.Int (coefficient, exponent) — the scaled-integer representation
// spec.md §3 asks for, with arbitrary precision instead of a fixed
// 128-bit width.
type Value struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Value{d: decimal.Zero}

var decimalOne = decimal.NewFromInt(1)

// FromString parses a decimal string from the wire boundary (trade
// price/quantity fields arrive as decimal strings per spec.md §6).
func FromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	return Value{d: d}, nil
}

// FromFloat admits float64 only at output/diagnostic boundaries.
func FromFloat(f float64) Value {
	return Value{d: decimal.NewFromFloat(f)}
}

// FromInt builds a Value equal to the integer i; no scaling is applied.
func FromInt(i int64) Value {
	return Value{d: decimal.NewFromInt(i)}
}

func (v Value) Add(o Value) Value      { return Value{d: v.d.Add(o.d)} }
func (v Value) Sub(o Value) Value      { return Value{d: v.d.Sub(o.d)} }
func (v Value) Mul(o Value) Value      { return Value{d: v.d.Mul(o.d)} }
func (v Value) Neg() Value             { return Value{d: v.d.Neg()} }
func (v Value) Abs() Value             { return Value{d: v.d.Abs()} }
func (v Value) Cmp(o Value) int        { return v.d.Cmp(o.d) }
func (v Value) Equal(o Value) bool     { return v.d.Equal(o.d) }
func (v Value) GreaterThan(o Value) bool    { return v.d.GreaterThan(o.d) }
func (v Value) GreaterThanOrEqual(o Value) bool { return v.d.GreaterThanOrEqual(o.d) }
func (v Value) LessThan(o Value) bool       { return v.d.LessThan(o.d) }
func (v Value) LessThanOrEqual(o Value) bool    { return v.d.LessThanOrEqual(o.d) }
func (v Value) IsZero() bool           { return v.d.IsZero() }
func (v Value) IsPositive() bool       { return v.d.IsPositive() }
func (v Value) IsNegative() bool       { return v.d.IsNegative() }
func (v Value) Sign() int              { return v.d.Sign() }
func (v Value) String() string         { return v.d.String() }
func (v Value) Float64() float64       { f, _ := v.d.Float64(); return f }

// Div performs a safe division: dividing by zero returns Zero rather
// than panicking or propagating NaN/Inf, since every detector ratio in
// spec.md §4 specifies "0 if expected=0" style fallbacks.
func (v Value) Div(o Value) Value {
	if o.IsZero() {
		return Zero
	}
	return Value{d: v.d.Div(o.d)}
}

// DivRound is Div with an explicit decimal-place rounding, used for
// externally rendered ratios (confidence scores, percentages).
func (v Value) DivRound(o Value, places int32) Value {
	if o.IsZero() {
		return Zero
	}
	return Value{d: v.d.DivRound(o.d, places)}
}

// Round rounds to the given number of decimal places, banker's-rounding
// free (shopspring/decimal rounds half away from zero).
func (v Value) Round(places int32) Value {
	return Value{d: v.d.Round(places)}
}

// Min/Max are the scalar comparisons detectors lean on for boundaries.
func Min(a, b Value) Value {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

func Max(a, b Value) Value {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi Value) Value {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Sum adds a slice of values without iterative float accumulation error.
func Sum(vs []Value) Value {
	total := Zero
	for _, v := range vs {
		total = total.Add(v)
	}
	return total
}

// Mean computes sum/n directly, never by iterative running-average
// reduction, per spec.md §3.
func Mean(vs []Value) Value {
	if len(vs) == 0 {
		return Zero
	}
	return Sum(vs).Div(FromInt(int64(len(vs))))
}

// Variance computes the population variance as
// (sum of squares)/n - mean^2, the sum-of-squares form spec.md §3
// requires rather than an incremental Welford-style reduce.
func Variance(vs []Value) Value {
	if len(vs) == 0 {
		return Zero
	}
	n := FromInt(int64(len(vs)))
	sum := Zero
	sumSq := Zero
	for _, v := range vs {
		sum = sum.Add(v)
		sumSq = sumSq.Add(v.Mul(v))
	}
	mean := sum.Div(n)
	return sumSq.Div(n).Sub(mean.Mul(mean))
}

// StdDev is the square root of Variance. shopspring/decimal has no
// native Sqrt, so this is the one place float64 boundary conversion is
// deliberately allowed (diagnostic/statistical dispersion, not a
// price or quantity value).
func StdDev(vs []Value) Value {
	variance := Variance(vs)
	if variance.IsNegative() {
		return Zero
	}
	f := variance.Float64()
	return FromFloat(math.Sqrt(f))
}

// Median computes the middle value (or average of the two middle
// values) of a sorted-ascending slice. Callers are responsible for
// sorting; Median does not mutate or sort its argument.
func Median(sorted []Value) Value {
	n := len(sorted)
	if n == 0 {
		return Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(FromInt(2))
}

// ZScore computes (v - mean) / stddev, returning Zero when stddev is
// zero (a degenerate, zero-variance sample set) rather than dividing.
func ZScore(v, mean, stddev Value) Value {
	if stddev.IsZero() {
		return Zero
	}
	return v.Sub(mean).Div(stddev)
}

// Scan/Value implement database/sql's driver interfaces so Value can be
// persisted directly by the gorm- and sqlite-backed sinks (internal/persistence)
// without manual string conversion at every call site.
func (v *Value) Scan(src any) error {
	var dd decimal.Decimal
	if err := dd.Scan(src); err != nil {
		return err
	}
	v.d = dd
	return nil
}

func (v Value) Value() (driver.Value, error) {
	return v.d.Value()
}

func (v Value) MarshalJSON() ([]byte, error) {
	return v.d.MarshalJSON()
}

func (v *Value) UnmarshalJSON(b []byte) error {
	return v.d.UnmarshalJSON(b)
}
