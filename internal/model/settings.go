package model

import "github.com/shopspring/decimal"

// Settings are the operator-defined parameters of a run.
type Settings struct {
	VaultID           string          `json:"vault_id"`
	Address           string          `json:"address"`
	MinRatio          decimal.Decimal `json:"min_ratio"`
	MaxRatio          decimal.Decimal `json:"max_ratio"`
	TargetToken       string          `json:"target_token"`
	StableToken       string          `json:"stable_token"`
	CollateralToken   string          `json:"collateral_token"`
	ReinvestThreshold decimal.Decimal `json:"reinvest_threshold"`
}

// Pair is the liquidity-pool symbol the vault's loans are farmed in.
func (s Settings) Pair() string {
	return s.TargetToken + "-" + s.StableToken
}

// LeverageDisabled reports whether the operator switched exposure off.
func (s Settings) LeverageDisabled() bool {
	return !s.MaxRatio.IsPositive()
}

// SettingsOverride is a partial update supplied with an invocation.
// Only fields that are set (and non-zero) replace the stored value.
type SettingsOverride struct {
	MinRatio    *decimal.Decimal `json:"min_ratio,omitempty"`
	MaxRatio    *decimal.Decimal `json:"max_ratio,omitempty"`
	TargetToken *string          `json:"target_token,omitempty"`
}

// Apply returns a copy of s with the override merged in.
func (o *SettingsOverride) Apply(s Settings) Settings {
	if o == nil {
		return s
	}
	if o.MaxRatio != nil && !o.MaxRatio.IsZero() {
		s.MaxRatio = *o.MaxRatio
	}
	if o.MinRatio != nil && !o.MinRatio.IsZero() {
		s.MinRatio = *o.MinRatio
	}
	if o.TargetToken != nil && *o.TargetToken != "" {
		s.TargetToken = *o.TargetToken
	}
	return s
}

// Empty reports whether the override changes nothing.
func (o *SettingsOverride) Empty() bool {
	return o == nil || (o.MinRatio == nil && o.MaxRatio == nil && o.TargetToken == nil)
}
