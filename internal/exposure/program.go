// Package exposure executes the rebalancing actions against the ledger and
// keeps the persisted recovery state in step with every transaction.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/store"
)

// ErrTxTimedOut is returned when a submitted transaction was not confirmed
// within the ledger's confirmation window.
var ErrTxTimedOut = errors.New("transaction not confirmed in time")

// ActionError reports which action and step failed, so the recovery
// path knows what was in flight.
type ActionError struct {
	Action model.ActionKind
	Step   model.Step
	TxID   string
	Err    error
}

func (e *ActionError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("%s failed at %s (tx %s): %v", e.Action, e.Step, e.TxID, e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Action, e.Step, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Options tunes the program.
type Options struct {
	PollInterval time.Duration
}

// Program runs exposure actions for one vault.
type Program struct {
	gateway  ledger.Gateway
	store    store.SettingsStore
	recorder recorder.Recorder
	notifier notifier.Notifier
	settings model.Settings
	opts     Options

	state model.StateInformation
	runID string
	log   zerolog.Logger
}

// NewProgram creates a program starting from the persisted state.
func NewProgram(gw ledger.Gateway, st store.SettingsStore, rec recorder.Recorder, n notifier.Notifier,
	settings model.Settings, state model.StateInformation, opts Options) *Program {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Program{
		gateway:  gw,
		store:    st,
		recorder: rec,
		notifier: n,
		settings: settings,
		opts:     opts,
		state:    state,
		log:      logger.GetForComponent("exposure"),
	}
}

// SetRunID tags recorded transitions with the current run.
func (p *Program) SetRunID(id string) { p.runID = id }

// State returns the last persisted state.
func (p *Program) State() model.StateInformation { return p.state }

// PendingTx returns the id of the transaction currently in flight, if any.
func (p *Program) PendingTx() string { return p.state.PendingTxID }

// Snapshot fetches vault and balances.
func (p *Program) Snapshot(ctx context.Context) (model.Vault, model.Balances, error) {
	vault, err := p.gateway.GetVault(ctx)
	if err != nil {
		return model.Vault{}, nil, fmt.Errorf("get vault: %w", err)
	}
	balances, err := p.gateway.GetBalances(ctx)
	if err != nil {
		return model.Vault{}, nil, fmt.Errorf("get balances: %w", err)
	}
	return vault, balances, nil
}

// UpdateToState validates the transition, persists it and records it.
func (p *Program) UpdateToState(ctx context.Context, info model.StateInformation) error {
	if err := model.ValidateTransition(p.state.State, info.State); err != nil {
		return err
	}
	if err := p.store.Save(ctx, info); err != nil {
		return fmt.Errorf("persist state %s: %w", info.State, err)
	}
	from := p.state.State
	p.state = info
	metrics.SetProgramState(info.State)
	if err := p.recorder.RecordTransition(&recorder.TransitionEvent{
		RunID:       p.runID,
		From:        string(from),
		To:          string(info.State),
		Action:      string(info.PendingAction),
		Step:        string(info.PendingStep),
		TxID:        info.PendingTxID,
		BlockHeight: info.BlockHeight,
	}); err != nil {
		p.log.Warn().Err(err).Msg("record transition")
	}
	p.log.Debug().Str("from", string(from)).Str("state", info.String()).Msg("state persisted")
	return nil
}

// WaitForTx polls until the transaction is confirmed (true) or timed out (false).
// Transient service timeouts keep polling; ctx ends the wait with ctx.Err().
func (p *Program) WaitForTx(ctx context.Context, txID string, since int64) (bool, error) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		status, err := p.gateway.PollConfirmation(ctx, txID, since)
		switch {
		case err != nil && !ledger.IsServiceTimeout(err):
			return false, fmt.Errorf("poll %s: %w", txID, err)
		case err != nil:
			p.log.Warn().Err(err).Str("tx", txID).Msg("poll timed out, retrying")
		case status == ledger.Confirmed:
			return true, nil
		case status == ledger.TimedOut:
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// submit sends an operation and returns its tx id and the height it was sent at.
func (p *Program) submit(ctx context.Context, op ledger.Operation) (string, int64, error) {
	height, err := p.gateway.BlockHeight(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("block height: %w", err)
	}
	if op.VaultID == "" {
		op.VaultID = p.settings.VaultID
	}
	if op.Address == "" {
		op.Address = p.settings.Address
	}
	txID, err := p.gateway.Submit(ctx, op)
	if err != nil {
		return "", 0, fmt.Errorf("submit %s: %w", op.Type, err)
	}
	p.log.Info().Str("op", string(op.Type)).Str("tx", txID).Int64("height", height).Msg("submitted")
	return txID, height, nil
}

// sendAndWait submits one step of an action. Waiting is persisted before the
// wait; a confirmed final step persists Idle, a confirmed intermediate step
// stays Waiting until the next step replaces it. Timeout or failure persists
// Error and returns an *ActionError.
func (p *Program) sendAndWait(ctx context.Context, action model.ActionKind, step model.Step, op ledger.Operation) error {
	if err := model.ValidateStart(p.state.State, action); err != nil {
		return err
	}
	txID, height, err := p.submit(ctx, op)
	if err != nil {
		return err
	}
	waiting := model.StateInformation{
		State:           model.StateWaitingForTransaction,
		PendingAction:   action,
		PendingStep:     step,
		PendingTxID:     txID,
		BlockHeight:     height,
		CleanupAttempts: p.state.CleanupAttempts,
	}
	if err := p.UpdateToState(ctx, waiting); err != nil {
		return err
	}

	confirmed, err := p.WaitForTx(ctx, txID, height)
	if err != nil && ctx.Err() != nil {
		// Budget ran out mid-wait; the next run resumes the wait.
		return err
	}
	if err == nil && !confirmed {
		err = ErrTxTimedOut
	}
	if err != nil {
		failed := model.StateInformation{
			State:           model.StateError,
			PendingAction:   action,
			PendingStep:     step,
			BlockHeight:     height,
			CleanupAttempts: p.state.CleanupAttempts,
		}
		if perr := p.UpdateToState(ctx, failed); perr != nil {
			p.log.Error().Err(perr).Msg("persist error state")
		}
		return &ActionError{Action: action, Step: step, TxID: txID, Err: err}
	}

	if step.Final() {
		return p.finish(ctx)
	}
	return nil
}

// finish persists Idle if a confirmed intermediate step is still recorded.
func (p *Program) finish(ctx context.Context) error {
	if p.state.State != model.StateWaitingForTransaction {
		return nil
	}
	return p.UpdateToState(ctx, model.IdleState(p.state.CleanupAttempts))
}

func (p *Program) alert(ctx context.Context, msg string) {
	if err := p.notifier.Send(ctx, msg); err != nil {
		p.log.Error().Err(err).Msg("send alert")
	}
}

func (p *Program) logMessage(ctx context.Context, msg string) {
	if err := p.notifier.Log(ctx, msg); err != nil {
		p.log.Error().Err(err).Msg("send log")
	}
}
