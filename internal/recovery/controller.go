// Package recovery decides how a run starts when the previous one may have
// been interrupted mid-transaction.
package recovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"VaultKeeper/internal/exposure"
	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
)

// Path is the recovery branch taken.
type Path string

const (
	PathNone        Path = "none"
	PathConfirmed   Path = "confirmed"
	PathInterrupted Path = "interrupted" // confirmed, but the action stopped half-done
	PathTimedOut    Path = "timed_out"
	PathCleanedUp   Path = "cleaned_up"
	PathExhausted   Path = "exhausted"
)

// Result is the starting posture of a run.
type Result struct {
	Path      Path
	Vault     model.Vault
	Balances  model.Balances
	Refreshed bool // Vault and Balances were re-read after a recovery step
	CleanupOK bool
	Exhausted bool
}

// Controller resolves persisted state before any new action.
type Controller struct {
	program            *exposure.Program
	notifier           notifier.Notifier
	maxCleanupAttempts int
	log                zerolog.Logger
}

// NewController creates a controller. maxCleanupAttempts < 1 means 1.
func NewController(p *exposure.Program, n notifier.Notifier, maxCleanupAttempts int) *Controller {
	if maxCleanupAttempts < 1 {
		maxCleanupAttempts = 1
	}
	return &Controller{
		program:            p,
		notifier:           n,
		maxCleanupAttempts: maxCleanupAttempts,
		log:                logger.GetForComponent("recovery"),
	}
}

// Resolve brings the persisted state back to Idle where it can:
//   - Idle: nothing to do, no ledger access.
//   - WaitingForTransaction: wait for the pending tx; confirmed goes to Idle
//     unless the step left loose tokens, timed out goes to Error.
//   - Error: run cleanup and go to Idle whatever its outcome.
//
// Result.Exhausted is set once the consecutive cleanup count reaches the
// limit; it stays set (even for Idle) until a run completes normally or the
// operator resets the state.
//
// When ctx ends during a wait, including the wait for a cleanup payback, the
// state stays WaitingForTransaction and Resolve returns the ctx error.
func (c *Controller) Resolve(ctx context.Context, info model.StateInformation) (Result, error) {
	if info.State == model.StateIdle {
		if info.CleanupAttempts >= c.maxCleanupAttempts {
			return Result{Path: PathExhausted, Exhausted: true}, nil
		}
		return Result{Path: PathNone}, nil
	}
	c.log.Info().Str("state", info.String()).Msg("last execution stopped early")

	res := Result{Path: PathNone}
	if info.State == model.StateWaitingForTransaction {
		next, path, err := c.resumeWait(ctx, info)
		if err != nil {
			return res, err
		}
		res.Path = path
		info = next
		if info.State == model.StateIdle && info.CleanupAttempts >= c.maxCleanupAttempts {
			// a resumed cleanup payback reached the limit
			res.Path, res.Exhausted = PathExhausted, true
			c.alert(ctx, fmt.Sprintf("cleanup ran %d times in a row without a clean run. not touching the vault until you check it!", info.CleanupAttempts))
		}
	}

	if info.State == model.StateError {
		var err error
		if res, err = c.cleanUp(ctx, info); err != nil {
			return res, err
		}
	}

	vault, balances, err := c.program.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("refresh after recovery: %w", err)
	}
	res.Vault, res.Balances, res.Refreshed = vault, balances, true
	return res, nil
}

func (c *Controller) resumeWait(ctx context.Context, info model.StateInformation) (model.StateInformation, Path, error) {
	c.log.Info().Str("tx", info.PendingTxID).Int64("height", info.BlockHeight).Msg("waiting for tx from previous run")
	confirmed, err := c.program.WaitForTx(ctx, info.PendingTxID, info.BlockHeight)
	if err != nil {
		return info, PathNone, fmt.Errorf("resume wait for %s: %w", info.PendingTxID, err)
	}

	next := model.IdleState(info.CleanupAttempts)
	path := PathConfirmed
	switch {
	case !confirmed:
		c.log.Warn().Str("tx", info.PendingTxID).Msg("timed out, cleanup needed")
		path = PathTimedOut
		next = forceError(info)
	case info.NeedsCleanup():
		c.log.Warn().Str("action", info.PendingAction.String()).Str("step", string(info.PendingStep)).Msg("action stopped mid-way, cleanup needed")
		path = PathInterrupted
		next = forceError(info)
	default:
		c.log.Info().Str("tx", info.PendingTxID).Msg("done")
	}
	if err := c.program.UpdateToState(ctx, next); err != nil {
		return info, path, err
	}
	metrics.Recovery(string(path))
	return next, path, nil
}

func (c *Controller) cleanUp(ctx context.Context, info model.StateInformation) (Result, error) {
	attempts := info.CleanupAttempts + 1
	res := Result{Path: PathCleanedUp}
	if attempts >= c.maxCleanupAttempts {
		res.Exhausted = true
	}

	c.log.Info().Int("attempt", attempts).Int("max", c.maxCleanupAttempts).Msg("need to clean up")
	ok, err := c.program.CleanUp(ctx, attempts)
	if err != nil && ctx.Err() != nil {
		// the payback stays Waiting (or Error if it was never sent) for the next run
		return res, fmt.Errorf("cleanup: %w", err)
	}
	if err != nil {
		c.log.Error().Err(err).Msg("cleanup failed")
	}
	res.CleanupOK = ok && err == nil

	// Never re-enter Error from here: the attempt counter bounds the loop.
	if cur := c.program.State(); cur.State != model.StateIdle || cur.CleanupAttempts != attempts {
		if perr := c.program.UpdateToState(ctx, model.IdleState(attempts)); perr != nil {
			return res, perr
		}
	}

	vault, _, verr := c.program.Snapshot(ctx)
	ratio := "unknown"
	if verr == nil {
		ratio = vault.CollateralRatio.String()
	}
	outcome := "successfully"
	if !res.CleanupOK {
		outcome = "with problems"
	}
	c.logMessage(ctx, fmt.Sprintf("executed clean-up %s. vault ratio after clean-up %s", outcome, ratio))

	if res.Exhausted {
		res.Path = PathExhausted
	}
	metrics.Recovery(string(res.Path))

	switch {
	case res.Exhausted:
		c.alert(ctx, fmt.Sprintf("cleanup ran %d times in a row without a clean run. not touching the vault until you check it!", attempts))
	case !res.CleanupOK:
		c.alert(ctx, "There was an error in recovering from a failed state. please check yourself!")
	default:
		c.alert(ctx, "Successfully cleaned up after some error happened")
	}
	return res, nil
}

func forceError(info model.StateInformation) model.StateInformation {
	return model.StateInformation{
		State:           model.StateError,
		PendingAction:   info.PendingAction,
		PendingStep:     info.PendingStep,
		BlockHeight:     info.BlockHeight,
		CleanupAttempts: info.CleanupAttempts,
	}
}

func (c *Controller) alert(ctx context.Context, msg string) {
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.log.Error().Err(err).Msg("send alert")
	}
}

func (c *Controller) logMessage(ctx context.Context, msg string) {
	if err := c.notifier.Log(ctx, msg); err != nil {
		c.log.Error().Err(err).Msg("send log")
	}
}
