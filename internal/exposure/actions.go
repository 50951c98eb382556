package exposure

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"VaultKeeper/internal/calculator"
	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
)

const amountPrecision = 8

var two = decimal.NewFromInt(2)

// position is a fresh read of everything an action sizes against.
type position struct {
	vault    model.Vault
	balances model.Balances
	pool     model.Pool
}

func (p *Program) fetch(ctx context.Context) (position, error) {
	vault, balances, err := p.Snapshot(ctx)
	if err != nil {
		return position{}, err
	}
	pool, err := p.gateway.GetPool(ctx, p.settings.Pair())
	if err != nil {
		return position{}, fmt.Errorf("get pool %s: %w", p.settings.Pair(), err)
	}
	return position{vault: vault, balances: balances, pool: pool}, nil
}

// RemoveExposure withdraws all liquidity of the pair and pays back the loans
// with what the wallet holds. With silentOnFail a failure is only logged.
func (p *Program) RemoveExposure(ctx context.Context, silentOnFail bool) (err error) {
	defer func() { p.done(ctx, model.ActionRemoveExposure, err, silentOnFail) }()

	pos, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	pair := p.settings.Pair()
	if lp := pos.balances.Get(pair); lp.IsPositive() {
		p.log.Info().Str("lp", lp.String()).Msg("removing all liquidity")
		if err := p.sendAndWait(ctx, model.ActionRemoveExposure, model.StepRemoveLiquidity, ledger.Operation{
			Type:    ledger.OpRemoveLiquidity,
			Pool:    pair,
			Amounts: []ledger.Amount{{Symbol: pair, Amount: lp}},
		}); err != nil {
			return err
		}
	}
	if err := p.payback(ctx, model.ActionRemoveExposure); err != nil {
		return err
	}
	return p.finish(ctx)
}

// DecreaseExposure repays enough loan to bring the vault back to the target ratio.
func (p *Program) DecreaseExposure(ctx context.Context) (err error) {
	defer func() { p.done(ctx, model.ActionDecreaseExposure, err, false) }()

	pos, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	target := calculator.TargetRatio(p.settings.MinRatio, p.settings.MaxRatio)
	if !target.IsPositive() {
		return fmt.Errorf("invalid target ratio %s", target)
	}
	repay := loanValue(pos.vault).Sub(pos.vault.CollateralValue.Div(target))
	if !repay.IsPositive() {
		p.log.Info().Str("ratio", pos.vault.CollateralRatio.String()).Msg("nothing to repay")
		return nil
	}

	perLP := lpValue(pos.pool)
	if !perLP.IsPositive() {
		return fmt.Errorf("pool %s has no liquidity", pos.pool.Symbol)
	}
	pair := p.settings.Pair()
	lp := decimal.Min(repay.Div(perLP), pos.balances.Get(pair)).Truncate(amountPrecision)
	if !lp.IsPositive() {
		return fmt.Errorf("no %s liquidity tokens to remove", pair)
	}
	p.log.Info().Str("repay_value", repay.StringFixed(2)).Str("lp", lp.String()).Msg("decreasing exposure")

	if err := p.sendAndWait(ctx, model.ActionDecreaseExposure, model.StepRemoveLiquidity, ledger.Operation{
		Type:    ledger.OpRemoveLiquidity,
		Pool:    pair,
		Amounts: []ledger.Amount{{Symbol: pair, Amount: lp}},
	}); err != nil {
		return err
	}
	if err := p.payback(ctx, model.ActionDecreaseExposure); err != nil {
		return err
	}
	return p.finish(ctx)
}

// IncreaseExposure borrows up to the target ratio, split in the pool's price
// ratio, and adds the borrowed tokens as liquidity.
func (p *Program) IncreaseExposure(ctx context.Context) (err error) {
	defer func() { p.done(ctx, model.ActionIncreaseExposure, err, false) }()

	pos, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	target := calculator.TargetRatio(p.settings.MinRatio, p.settings.MaxRatio)
	if !target.IsPositive() {
		return fmt.Errorf("invalid target ratio %s", target)
	}
	additional := pos.vault.CollateralValue.Div(target).Sub(loanValue(pos.vault))
	if !additional.IsPositive() {
		p.log.Info().Str("ratio", pos.vault.CollateralRatio.String()).Msg("nothing to borrow")
		return nil
	}

	oracle, ok := pos.vault.OraclePrice(p.settings.TargetToken)
	if !ok || !oracle.IsPositive() {
		return fmt.Errorf("no oracle price for %s", p.settings.TargetToken)
	}
	poolPrice := pos.pool.PriceAInB()
	if !poolPrice.IsPositive() {
		return fmt.Errorf("pool %s has no liquidity", pos.pool.Symbol)
	}
	// a*oracle + b = additional with b = a*poolPrice
	targetAmount := additional.Div(oracle.Add(poolPrice)).Truncate(amountPrecision)
	stableAmount := targetAmount.Mul(poolPrice).Truncate(amountPrecision)
	if !targetAmount.IsPositive() || !stableAmount.IsPositive() {
		return nil
	}
	p.log.Info().Str("borrow_value", additional.StringFixed(2)).
		Str(p.settings.TargetToken, targetAmount.String()).
		Str(p.settings.StableToken, stableAmount.String()).Msg("increasing exposure")

	if err := p.sendAndWait(ctx, model.ActionIncreaseExposure, model.StepTakeLoan, ledger.Operation{
		Type: ledger.OpTakeLoan,
		Amounts: []ledger.Amount{
			{Symbol: p.settings.TargetToken, Amount: targetAmount},
			{Symbol: p.settings.StableToken, Amount: stableAmount},
		},
	}); err != nil {
		return err
	}

	balances, err := p.gateway.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}
	if err := p.sendAndWait(ctx, model.ActionIncreaseExposure, model.StepAddLiquidity, ledger.Operation{
		Type: ledger.OpAddLiquidity,
		Pool: p.settings.Pair(),
		Amounts: []ledger.Amount{
			{Symbol: p.settings.TargetToken, Amount: decimal.Min(targetAmount, balances.Get(p.settings.TargetToken))},
			{Symbol: p.settings.StableToken, Amount: decimal.Min(stableAmount, balances.Get(p.settings.StableToken))},
		},
	}); err != nil {
		return err
	}
	return p.finish(ctx)
}

// Reinvest deposits collateral tokens from the wallet once they reach the
// threshold. Returns whether the vault changed.
func (p *Program) Reinvest(ctx context.Context) (changed bool, err error) {
	threshold := p.settings.ReinvestThreshold
	if !threshold.IsPositive() {
		return false, nil
	}
	balances, err := p.gateway.GetBalances(ctx)
	if err != nil {
		return false, fmt.Errorf("get balances: %w", err)
	}
	amount := balances.Get(p.settings.CollateralToken)
	if amount.LessThan(threshold) {
		p.log.Debug().Str("amount", amount.String()).Str("threshold", threshold.String()).Msg("below reinvest threshold")
		return false, nil
	}

	defer func() { p.done(ctx, model.ActionReinvest, err, false) }()
	p.log.Info().Str(p.settings.CollateralToken, amount.String()).Msg("reinvesting")
	if err := p.sendAndWait(ctx, model.ActionReinvest, model.StepDepositCollateral, ledger.Operation{
		Type:    ledger.OpDepositCollateral,
		Amounts: []ledger.Amount{{Symbol: p.settings.CollateralToken, Amount: amount}},
	}); err != nil {
		return false, err
	}
	p.logMessage(ctx, fmt.Sprintf("reinvested %s %s", amount.String(), p.settings.CollateralToken))
	return true, nil
}

// CleanUp pays back loans with whatever target and stable tokens are loose in
// the wallet, undoing a half-finished increase or finishing a half-finished
// decrease. It starts from Error; the payback is persisted as a wait like any
// other step and carries attempts as the consecutive cleanup count, so a
// confirmed payback leaves Idle(attempts) and an interrupted one is resumed by
// the next run.
func (p *Program) CleanUp(ctx context.Context, attempts int) (ok bool, err error) {
	vault, balances, err := p.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	amounts := p.paybackAmounts(vault, balances)
	if len(amounts) == 0 {
		p.log.Info().Msg("nothing to clean up")
		return true, nil
	}
	defer func() { metrics.ActionExecuted(model.ActionCleanUp, err) }()

	p.state.CleanupAttempts = attempts
	if err := p.sendAndWait(ctx, model.ActionCleanUp, model.StepPaybackLoan, ledger.Operation{
		Type:    ledger.OpPaybackLoan,
		Amounts: amounts,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// payback repays loans from the wallet after a fresh read.
func (p *Program) payback(ctx context.Context, action model.ActionKind) error {
	vault, balances, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	amounts := p.paybackAmounts(vault, balances)
	if len(amounts) == 0 {
		p.log.Warn().Str("action", action.String()).Msg("no tokens to pay back")
		return nil
	}
	return p.sendAndWait(ctx, action, model.StepPaybackLoan, ledger.Operation{
		Type:    ledger.OpPaybackLoan,
		Amounts: amounts,
	})
}

func (p *Program) paybackAmounts(vault model.Vault, balances model.Balances) []ledger.Amount {
	var out []ledger.Amount
	for _, symbol := range []string{p.settings.TargetToken, p.settings.StableToken} {
		amount := decimal.Min(balances.Get(symbol), vault.Loan(symbol))
		if amount.IsPositive() {
			out = append(out, ledger.Amount{Symbol: symbol, Amount: amount})
		}
	}
	return out
}

// done counts the action and alerts on a failed transaction. Other errors
// are returned to the caller, which reports them.
func (p *Program) done(ctx context.Context, action model.ActionKind, err error, silent bool) {
	metrics.ActionExecuted(action, err)
	if err == nil {
		return
	}
	p.log.Error().Err(err).Str("action", action.String()).Msg("action failed")
	var ae *ActionError
	if silent || !errors.As(err, &ae) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	p.alert(ctx, fmt.Sprintf("%s failed: %s", action, notifier.Escape(err.Error())))
}

// loanValue falls back to oracle prices when the ledger does not report it.
func loanValue(v model.Vault) decimal.Decimal {
	if v.LoanValue.IsPositive() {
		return v.LoanValue
	}
	total := decimal.Zero
	for _, l := range v.LoanAmounts {
		price := decimal.NewFromInt(1)
		if l.ActivePrice != nil {
			price = l.ActivePrice.Active
		}
		total = total.Add(l.Amount.Mul(price))
	}
	return total
}

// lpValue is the stable-denominated value of one liquidity token.
func lpValue(pool model.Pool) decimal.Decimal {
	if !pool.TotalLiquidity.IsPositive() {
		return decimal.Zero
	}
	return pool.TokenB.Reserve.Mul(two).Div(pool.TotalLiquidity)
}
