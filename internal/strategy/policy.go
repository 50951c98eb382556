package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
)

// MinCollateralValue is the vault size below which exposure is never increased.
var MinCollateralValue = decimal.NewFromInt(10)

// Input is everything the policy looks at.
type Input struct {
	UsedRatio       decimal.Decimal
	MinRatio        decimal.Decimal
	MaxRatio        decimal.Decimal
	CollateralValue decimal.Decimal
}

// Decision is the outcome of the second policy stage.
type Decision struct {
	Action  model.ActionKind
	Warning string
}

// Decide picks the first-stage action. Rules, first match wins:
//  1. leverage disabled and debt present -> RemoveExposure
//  2. ratio below the band -> DecreaseExposure
//  3. otherwise -> Reinvest, followed by DecideAfterReinvest
//
// A non-positive ratio means no debt, so it never triggers a decrease.
func Decide(in Input) model.ActionKind {
	if !in.MaxRatio.IsPositive() {
		if in.UsedRatio.IsPositive() {
			return model.ActionRemoveExposure
		}
		return model.ActionNone
	}
	if in.UsedRatio.IsPositive() && in.UsedRatio.LessThan(in.MinRatio) {
		return model.ActionDecreaseExposure
	}
	return model.ActionReinvest
}

// DecideAfterReinvest evaluates the increase branch with a ratio recomputed
// after the reinvest step.
func DecideAfterReinvest(in Input) Decision {
	if in.CollateralValue.LessThan(MinCollateralValue) {
		return Decision{
			Action:  model.ActionNone,
			Warning: fmt.Sprintf("less than %s in the vault (%s). can't work like that", MinCollateralValue, in.CollateralValue.StringFixed(2)),
		}
	}
	if in.UsedRatio.IsNegative() || in.UsedRatio.GreaterThan(in.MaxRatio) {
		return Decision{Action: model.ActionIncreaseExposure}
	}
	return Decision{Action: model.ActionNone}
}
