package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
)

// OpType is the kind of ledger transaction.
type OpType string

const (
	OpRemoveLiquidity   OpType = "remove_liquidity"
	OpAddLiquidity      OpType = "add_liquidity"
	OpTakeLoan          OpType = "take_loan"
	OpPaybackLoan       OpType = "payback_loan"
	OpDepositCollateral OpType = "deposit_collateral"
)

// Amount is a token quantity inside an operation.
type Amount struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// Operation is a mutating request submitted to the ledger.
type Operation struct {
	Type    OpType   `json:"type"`
	VaultID string   `json:"vault_id,omitempty"`
	Address string   `json:"address"`
	Pool    string   `json:"pool,omitempty"`
	Amounts []Amount `json:"amounts"`
}

// ConfirmStatus is the result of a confirmation poll.
type ConfirmStatus string

const (
	Confirmed ConfirmStatus = "confirmed"
	Pending   ConfirmStatus = "pending"
	TimedOut  ConfirmStatus = "timed_out"
)

// Gateway is what the keeper needs from the ledger service.
type Gateway interface {
	GetVault(ctx context.Context) (model.Vault, error)
	GetPool(ctx context.Context, pair string) (model.Pool, error)
	GetBalances(ctx context.Context) (model.Balances, error)
	BlockHeight(ctx context.Context) (int64, error)
	Submit(ctx context.Context, op Operation) (string, error)
	PollConfirmation(ctx context.Context, txID string, sinceBlockHeight int64) (ConfirmStatus, error)
	Name() string
}
