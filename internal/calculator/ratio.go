package calculator

import (
	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Unbounded is reported as ratio when the vault has no debt.
var Unbounded = decimal.NewFromInt(-1)

// NextRatio projects the collateral ratio after the next oracle price update.
// Collateral is weighted by its collateral factor; tokens without a price
// (the stable token) count at 1. Returns Unbounded when there is no loan.
func NextRatio(v model.Vault) decimal.Decimal {
	collateral := decimal.Zero
	for _, c := range v.CollateralAmounts {
		factor := c.Factor
		if factor.IsZero() {
			factor = decimal.NewFromInt(1)
		}
		collateral = collateral.Add(c.Amount.Mul(nextPrice(c)).Mul(factor))
	}
	loan := decimal.Zero
	for _, l := range v.LoanAmounts {
		loan = loan.Add(l.Amount.Mul(nextPrice(l)))
	}
	if !loan.IsPositive() {
		return Unbounded
	}
	return collateral.Div(loan).Mul(hundred).Round(2)
}

func nextPrice(t model.TokenAmount) decimal.Decimal {
	if t.ActivePrice == nil {
		return decimal.NewFromInt(1)
	}
	if t.ActivePrice.Next.IsPositive() {
		return t.ActivePrice.Next
	}
	return t.ActivePrice.Active
}

// UsedRatio is the conservative ratio the policy acts on.
func UsedRatio(current, next decimal.Decimal) decimal.Decimal {
	return decimal.Min(current, next)
}

// VaultUsedRatio is UsedRatio for a vault snapshot.
func VaultUsedRatio(v model.Vault) decimal.Decimal {
	return UsedRatio(v.CollateralRatio, NextRatio(v))
}

// TargetRatio is the middle of the band as a fraction (250% -> 2.5).
// With leverage disabled the lower bound is the target.
func TargetRatio(minRatio, maxRatio decimal.Decimal) decimal.Decimal {
	if !maxRatio.IsPositive() {
		return minRatio.Div(hundred)
	}
	return minRatio.Add(maxRatio).Div(decimal.NewFromInt(2)).Div(hundred)
}
