package calculator

import "github.com/shopspring/decimal"

// SafetyLevel maps the current ratio onto 0..100.
// At or below minRatio it is 0; from the band midpoint upwards it is 100.
// A negative ratio (no debt) is fully safe. Only used for reporting.
func SafetyLevel(current, minRatio, maxRatio decimal.Decimal) decimal.Decimal {
	if current.IsNegative() {
		return hundred
	}
	if current.LessThanOrEqual(minRatio) {
		return decimal.Zero
	}
	target := TargetRatio(minRatio, maxRatio).Mul(hundred)
	if current.GreaterThanOrEqual(target) || target.LessThanOrEqual(minRatio) {
		return hundred
	}
	level := current.Sub(minRatio).Div(target.Sub(minRatio)).Mul(hundred)
	return level.Round(1)
}
