// Package numeric holds the ratio and rounding helpers shared by the
// analytics stages. No function here ever returns NaN or an infinity.
package numeric

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SafeDiv returns num/den, or 0 when den is zero or the quotient is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	q := num / den
	if !IsFinite(q) {
		return 0
	}
	return q
}

// Round rounds v to the given number of decimal places, half to even.
// Ties are judged on the exact binary value of v, so 2.675 (stored just
// below) rounds to 2.67 and 0.125 (exact) rounds to 0.12.
func Round(v float64, places int32) float64 {
	if !IsFinite(v) {
		return 0
	}
	// 1074 fractional digits print any float64 exactly.
	d, err := decimal.NewFromString(new(big.Float).SetFloat64(v).Text('f', 1074))
	if err != nil {
		return 0
	}
	f, _ := d.RoundBank(places).Float64()
	return f
}

// RoundScaled rounds v*10^places to the nearest integer, half to even, and
// scales back. Used for scores, where 33.05 must land on 33.0.
func RoundScaled(v float64, places int32) float64 {
	if !IsFinite(v) {
		return 0
	}
	p := math.Pow10(int(places))
	r := math.RoundToEven(v*p) / p
	if !IsFinite(r) {
		return 0
	}
	return r
}

// Money rounds a currency amount to cents.
func Money(v float64) float64 {
	return Round(v, 2)
}

// Clip bounds v to [lo, hi]. NaN clips to lo.
func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sum adds values with decimal precision and returns the float result.
// Used for paid-amount totals, where float accumulation order would
// otherwise leak into the rounded output.
func Sum(values []float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		if IsFinite(v) {
			total = total.Add(decimal.NewFromFloat(v))
		}
	}
	f, _ := total.Float64()
	return f
}
