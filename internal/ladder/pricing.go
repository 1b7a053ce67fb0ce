package ladder

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	minSpacing    = decimal.RequireFromString("0.001")
	depthStep     = decimal.RequireFromString("0.0001")
	intimationGap = decimal.RequireFromString("0.0005")
	targetOffset  = decimal.RequireFromString("0.05")
	hundred       = decimal.NewFromInt(100)
	one           = decimal.NewFromInt(1)
)

// EffectiveSpacing is max(diff%, 0.1%) widened by 0.0001 per whole square
// root of the number of rungs already held.
func EffectiveSpacing(diffPercent float64, rungs int) decimal.Decimal {
	base := decimal.Max(decimal.NewFromFloat(diffPercent).Div(hundred), minSpacing)
	depth := decimal.NewFromFloat(math.Floor(math.Sqrt(float64(rungs))))
	return base.Add(depth.Mul(depthStep))
}

// TargetPrice is round(last x (1 - spacing), 1) - 0.05, rounding half to even.
func TargetPrice(last float64, spacing decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(last).Mul(one.Sub(spacing)).RoundBank(1).Sub(targetOffset)
}

// IntimationPrice is the level the feed must fall below before a new rung is added.
func IntimationPrice(last float64, spacing decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(last).Mul(one.Sub(spacing).Add(intimationGap))
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
