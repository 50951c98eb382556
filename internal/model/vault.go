package model

import (
	"github.com/shopspring/decimal"
)

// VaultState is the ledger-reported state of a vault.
type VaultState string

const (
	VaultActive        VaultState = "ACTIVE"
	VaultFrozen        VaultState = "FROZEN"
	VaultMayLiquidate  VaultState = "MAY_LIQUIDATE"
	VaultInLiquidation VaultState = "IN_LIQUIDATION"
)

// ActivePrice is the oracle price currently in effect and the one scheduled next.
type ActivePrice struct {
	Active decimal.Decimal `json:"active"`
	Next   decimal.Decimal `json:"next"`
}

// TokenAmount is a collateral or loan position inside a vault.
type TokenAmount struct {
	Symbol      string          `json:"symbol"`
	Amount      decimal.Decimal `json:"amount"`
	ActivePrice *ActivePrice    `json:"active_price,omitempty"` // nil for the stable token (price 1)
	Factor      decimal.Decimal `json:"factor"`                 // collateral factor, zero means 1
}

// LoanScheme holds the ledger's requirements for the vault.
type LoanScheme struct {
	ID          string          `json:"id"`
	MinColRatio decimal.Decimal `json:"min_col_ratio"`
	InterestPct decimal.Decimal `json:"interest_rate"`
}

// Vault is a read-only snapshot of the managed position.
type Vault struct {
	ID                string          `json:"vault_id"`
	OwnerAddress      string          `json:"owner_address"`
	State             VaultState      `json:"state"`
	CollateralRatio   decimal.Decimal `json:"collateral_ratio"`
	CollateralValue   decimal.Decimal `json:"collateral_value"`
	LoanValue         decimal.Decimal `json:"loan_value"`
	CollateralAmounts []TokenAmount   `json:"collateral_amounts"`
	LoanAmounts       []TokenAmount   `json:"loan_amounts"`
	Scheme            LoanScheme      `json:"loan_scheme"`
}

// Loan returns the outstanding loan of the given token.
func (v Vault) Loan(symbol string) decimal.Decimal {
	for _, l := range v.LoanAmounts {
		if l.Symbol == symbol {
			return l.Amount
		}
	}
	return decimal.Zero
}

// OraclePrice returns the active oracle price of a loan or collateral token.
func (v Vault) OraclePrice(symbol string) (decimal.Decimal, bool) {
	for _, list := range [][]TokenAmount{v.LoanAmounts, v.CollateralAmounts} {
		for _, t := range list {
			if t.Symbol == symbol && t.ActivePrice != nil {
				return t.ActivePrice.Active, true
			}
		}
	}
	return decimal.Zero, false
}

// PoolToken is one side of a liquidity pool.
type PoolToken struct {
	Symbol  string          `json:"symbol"`
	Reserve decimal.Decimal `json:"reserve"`
}

// Pool is a snapshot of a liquidity pool pair.
type Pool struct {
	Symbol         string          `json:"symbol"`
	TokenA         PoolToken       `json:"token_a"`
	TokenB         PoolToken       `json:"token_b"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity"`
}

// PriceAInB returns how many B tokens one A token is worth in the pool.
func (p Pool) PriceAInB() decimal.Decimal {
	if p.TokenA.Reserve.IsZero() {
		return decimal.Zero
	}
	return p.TokenB.Reserve.Div(p.TokenA.Reserve)
}

// Balances maps token symbol to wallet amount.
type Balances map[string]decimal.Decimal

// Get returns the balance of symbol, zero when absent.
func (b Balances) Get(symbol string) decimal.Decimal {
	if v, ok := b[symbol]; ok {
		return v
	}
	return decimal.Zero
}
