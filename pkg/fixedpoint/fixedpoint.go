// Package fixedpoint provides fixed-point decimal helpers shared across the
// copy-trading engine. All monetary quantities use github.com/shopspring/decimal
// (minimum 18 significant digits) with banker's rounding; floats are
// reserved for statistical quantities (volatility, ratios, scores) per §3
// and §9.
package fixedpoint

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// CentPlaces is the quantization scale applied at decision boundaries
// (§9: "single-cent quantization is applied at the decision boundary").
const CentPlaces = 2

// QuantizeCents rounds d to the nearest cent using banker's rounding
// (round-half-to-even), matching §9's "banker's rounding" requirement.
func QuantizeCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CentPlaces)
}

// Clip constrains d to the closed interval [lo, hi]. Callers are
// responsible for ensuring lo <= hi.
func Clip(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// ClipFloat is the float64 equivalent of Clip, for statistical quantities.
func ClipFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Floor64 returns the integer floor of a decimal as an int64, matching the
// PositionSizingDecision.Shares invariant `shares = floor(finalSize)`.
func Floor64(d decimal.Decimal) int64 {
	return d.Floor().IntPart()
}

// Mean returns the arithmetic mean of a decimal slice, or zero for an empty slice.
// Kept as exact decimal arithmetic (not routed through gonum/stat) since this
// result feeds back into further decimal math in callers such as
// ConsistencyRatio, where float round-tripping would compound error.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// StdDev returns the sample standard deviation (Bessel-corrected) of a
// decimal slice, or zero when fewer than two samples are present. The
// decimal inputs are converted to float64 for the underlying computation,
// which uses gonum's two-pass variance algorithm rather than a hand-rolled
// sum-of-squares loop.
func StdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	floats := make([]float64, len(values))
	for i, v := range values {
		f, _ := v.Float64()
		floats[i] = f
	}
	return decimal.NewFromFloat(stat.StdDev(floats, nil))
}

// ConsistencyRatio returns clip(1 - stdev/mean, 0, 1), the shared shape used
// by both the win-rate-consistency and position-sizing-consistency component
// scores in §4.1. Returns 0 when the mean is zero (a degenerate series); the
// scorer detects that case and substitutes its neutral component score
// rather than failing the whole computation (§4.1's failure semantics).
func ConsistencyRatio(values []decimal.Decimal) decimal.Decimal {
	mean := Mean(values)
	if mean.IsZero() {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(1).Sub(StdDev(values).Div(mean).Abs())
	return Clip(ratio, decimal.Zero, decimal.NewFromInt(1))
}
