package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"VaultKeeper/internal/calculator"
	"VaultKeeper/internal/exposure"
	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/recovery"
	"VaultKeeper/internal/store"
	"VaultKeeper/internal/strategy"
)

// Event is the optional input of an invocation.
type Event struct {
	Override   *model.SettingsOverride
	CheckSetup bool
}

// Status is the outcome of an invocation.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusOutOfBudget Status = "out_of_budget"
)

// Code maps the status to the hosting environment's success/failure signal.
func (s Status) Code() int {
	if s == StatusSuccess {
		return 200
	}
	return 500
}

// Budget reports how much wall-clock time the invocation has left.
type Budget interface {
	Remaining() time.Duration
}

// DeadlineBudget is a Budget ending at a fixed point in time.
type DeadlineBudget struct {
	Deadline time.Time
}

// NewDeadlineBudget returns a budget of d starting now.
func NewDeadlineBudget(d time.Duration) DeadlineBudget {
	return DeadlineBudget{Deadline: time.Now().Add(d)}
}

func (b DeadlineBudget) Remaining() time.Duration {
	return time.Until(b.Deadline)
}

// Deps are the collaborators of the loop.
type Deps struct {
	Gateway  ledger.Gateway
	Store    store.SettingsStore
	Notifier notifier.Notifier
	Recorder recorder.Recorder
}

// Options tunes the loop.
type Options struct {
	MinTimePerAction   time.Duration
	ErrorCooldown      time.Duration
	MaxCleanupAttempts int
	PollInterval       time.Duration
}

// Loop is the top-level driver of one invocation.
type Loop struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	// program of the current iteration, for the emergency write
	program *exposure.Program
}

// NewLoop creates a loop.
func NewLoop(deps Deps, opts Options) *Loop {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if opts.MinTimePerAction <= 0 {
		opts.MinTimePerAction = 5 * time.Minute
	}
	if opts.ErrorCooldown <= 0 {
		opts.ErrorCooldown = time.Minute
	}
	return &Loop{deps: deps, opts: opts, log: logger.GetForComponent("loop")}
}

// Run iterates while the budget allows an action. Each iteration either
// finishes the invocation or fails; failures are reported, persisted as
// Error where needed, and retried after the cooldown.
func (l *Loop) Run(ctx context.Context, ev Event, budget Budget) Status {
	for budget.Remaining() >= l.opts.MinTimePerAction {
		l.log.Info().Dur("remaining", budget.Remaining()).Msg("starting iteration")
		runID := uuid.NewString()
		started := time.Now()

		status, err := l.iterate(ctx, ev, budget, runID)
		program := l.program
		l.program = nil
		if err == nil {
			metrics.RunFinished(string(status))
			return status
		}
		if ctx.Err() != nil {
			l.log.Warn().Err(err).Msg("run cancelled")
			metrics.RunFinished(string(StatusFailure))
			return StatusFailure
		}
		if errors.Is(err, context.DeadlineExceeded) && !ledger.IsServiceTimeout(err) {
			// the budget ran out inside a blocking call; state stays for the next invocation
			l.log.Warn().Err(err).Msg("budget exhausted mid-iteration")
			break
		}
		l.handleFailure(ctx, program, runID, started, err)

		select {
		case <-ctx.Done():
			return StatusFailure
		case <-time.After(l.opts.ErrorCooldown):
		}
	}
	l.log.Warn().Msg("not enough time left, deferring to the next invocation")
	metrics.RunFinished(string(StatusOutOfBudget))
	return StatusOutOfBudget
}

// handleFailure reports an iteration error. Service timeouts leave the state
// untouched; anything else forces Error through the store alone.
func (l *Loop) handleFailure(ctx context.Context, program *exposure.Program, runID string, started time.Time, err error) {
	note := err.Error()
	if ledger.IsServiceTimeout(err) {
		l.log.Warn().Err(err).Msg("ledger service timeout")
		l.logMessage(ctx, "There was a timeout from the ledger api. will try again.")
	} else {
		l.log.Error().Err(err).Msg("error in script")
		l.alert(ctx, "There was an unexpected error in the script. please check the logs")

		failed := model.StateInformation{State: model.StateError}
		if program != nil {
			prev := program.State()
			failed.PendingAction = prev.PendingAction
			failed.PendingStep = prev.PendingStep
			failed.BlockHeight = prev.BlockHeight
			failed.CleanupAttempts = prev.CleanupAttempts
			if tx := program.PendingTx(); tx != "" {
				l.log.Warn().Str("tx", tx).Msg("abandoning pending tx to cleanup")
				note += " (pending tx " + tx + ")"
			}
		}
		if serr := l.deps.Store.Save(ctx, failed); serr != nil {
			l.log.Error().Err(serr).Msg("emergency state write failed")
		} else {
			metrics.SetProgramState(model.StateError)
		}
	}
	if rerr := l.deps.Recorder.RecordRun(&recorder.RunRecord{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Outcome:    string(StatusFailure),
		Note:       note,
	}); rerr != nil {
		l.log.Warn().Err(rerr).Msg("record run")
	}
}

func (l *Loop) iterate(ctx context.Context, ev Event, budget Budget, runID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, budget.Remaining())
	defer cancel()
	started := time.Now()

	settings, state, err := l.deps.Store.Load(ctx)
	if err != nil {
		return StatusFailure, fmt.Errorf("load settings: %w", err)
	}
	l.log.Info().Str("state", state.String()).Msg("initial state")
	if !ev.Override.Empty() {
		l.log.Info().Msg("applying settings override")
		settings = ev.Override.Apply(settings)
	}

	program := exposure.NewProgram(l.deps.Gateway, l.deps.Store, l.deps.Recorder, l.deps.Notifier,
		settings, state, exposure.Options{PollInterval: l.opts.PollInterval})
	program.SetRunID(runID)
	l.program = program

	if ev.CheckSetup {
		report, err := program.CheckSetup(ctx)
		if err != nil {
			return StatusFailure, err
		}
		l.alert(ctx, exposure.FormatCheck(settings, report))
		if report.OK() {
			return StatusSuccess, nil
		}
		return StatusFailure, nil
	}

	vault, err := l.deps.Gateway.GetVault(ctx)
	if err != nil {
		return StatusFailure, fmt.Errorf("get vault: %w", err)
	}
	pool, poolErr := l.deps.Gateway.GetPool(ctx, settings.Pair())
	if poolErr != nil && (ledger.IsServiceTimeout(poolErr) || ledger.KindOf(poolErr) == ledger.KindUnknown) {
		return StatusFailure, fmt.Errorf("get pool: %w", poolErr)
	}
	if err := exposure.Preflight(vault, pool, poolErr, settings.Pair()); err != nil {
		l.log.Error().Err(err).Msg("preflight")
		l.alert(ctx, notifier.Escape(err.Error()))
		return StatusFailure, nil
	}

	res, err := recovery.NewController(program, l.deps.Notifier, l.opts.MaxCleanupAttempts).Resolve(ctx, state)
	if err != nil {
		return StatusFailure, err
	}
	if res.Refreshed {
		vault = res.Vault
	}
	if res.Exhausted {
		if !res.Refreshed {
			l.alert(ctx, "cleanup limit reached earlier. not touching the vault until the state is reset")
		}
		return StatusFailure, nil
	}
	if res.Path != recovery.PathNone && budget.Remaining() < l.opts.MinTimePerAction {
		// recovery used up the time for an action; the next invocation starts from here
		l.log.Info().Str("path", string(res.Path)).Msg("not enough time left after recovery")
		if res.Path == recovery.PathCleanedUp && !res.CleanupOK {
			return StatusFailure, nil
		}
		return StatusSuccess, nil
	}

	if vault.State == model.VaultFrozen {
		if err := program.RemoveExposure(ctx, true); err != nil {
			l.log.Warn().Err(err).Msg("remove exposure on frozen vault")
		}
		msg := "vault is frozen. trying again later"
		l.alert(ctx, msg)
		l.log.Warn().Msg(msg)
		return StatusSuccess, nil
	}

	return l.rebalance(ctx, program, settings, vault, budget, runID, started)
}

// rebalance runs the policy and the chosen actions, then reports.
func (l *Loop) rebalance(ctx context.Context, program *exposure.Program, settings model.Settings, vault model.Vault,
	budget Budget, runID string, started time.Time) (Status, error) {
	oldRatio := vault.CollateralRatio
	nextRatio := calculator.NextRatio(vault)
	used := calculator.UsedRatio(oldRatio, nextRatio)
	l.log.Info().
		Str("ratio", oldRatio.String()).
		Str("next", nextRatio.String()).
		Str("min", settings.MinRatio.String()).
		Str("max", settings.MaxRatio.String()).
		Str("target", calculator.TargetRatio(settings.MinRatio, settings.MaxRatio).Mul(decimal.NewFromInt(100)).String()).
		Str("token", settings.TargetToken).
		Msg("starting rebalance")

	in := strategy.Input{
		UsedRatio:       used,
		MinRatio:        settings.MinRatio,
		MaxRatio:        settings.MaxRatio,
		CollateralValue: vault.CollateralValue,
	}
	var (
		actions []model.ActionKind
		changed bool
		err     error
	)
	switch action := strategy.Decide(in); action {
	case model.ActionRemoveExposure:
		actions = append(actions, action)
		changed = true
		err = program.RemoveExposure(ctx, false)
	case model.ActionDecreaseExposure:
		actions = append(actions, action)
		changed = true
		err = program.DecreaseExposure(ctx)
	case model.ActionReinvest:
		changed, err = program.Reinvest(ctx)
		if changed {
			actions = append(actions, action)
		}
		l.log.Info().Dur("remaining", budget.Remaining()).Msg("after reinvest")
		if err != nil || budget.Remaining() <= l.opts.MinTimePerAction {
			break
		}
		if changed {
			if vault, err = l.deps.Gateway.GetVault(ctx); err != nil {
				return StatusFailure, fmt.Errorf("get vault: %w", err)
			}
		}
		in.UsedRatio = calculator.VaultUsedRatio(vault)
		in.CollateralValue = vault.CollateralValue
		decision := strategy.DecideAfterReinvest(in)
		if decision.Warning != "" {
			l.alert(ctx, decision.Warning)
			l.log.Warn().Msg(decision.Warning)
		}
		if decision.Action == model.ActionIncreaseExposure {
			actions = append(actions, decision.Action)
			changed = true
			err = program.IncreaseExposure(ctx)
		}
	}

	ok := true
	var actionErr *exposure.ActionError
	switch {
	case err == nil:
	case errors.As(err, &actionErr):
		// already persisted as Error and alerted
		ok = false
	default:
		return StatusFailure, err
	}

	if ok {
		if err := program.UpdateToState(ctx, model.IdleState(0)); err != nil {
			return StatusFailure, err
		}
		l.log.Info().Msg("wrote state")
	}

	after := vault
	if changed {
		if v, err := l.deps.Gateway.GetVault(ctx); err == nil {
			after = v
		} else {
			l.log.Warn().Err(err).Msg("refresh vault for report")
		}
	}
	nextAfter := calculator.NextRatio(after)
	safety := calculator.SafetyLevel(after.CollateralRatio, settings.MinRatio, settings.MaxRatio)
	metrics.ObserveVault(after.CollateralRatio, nextAfter, safety)

	l.logMessage(ctx, notifier.FormatRunSummary(notifier.RunSummary{
		Changed:     changed,
		OK:          ok,
		RatioBefore: oldRatio,
		NextBefore:  nextRatio,
		RatioAfter:  after.CollateralRatio,
		NextAfter:   nextAfter,
		MinRatio:    settings.MinRatio,
		MaxRatio:    settings.MaxRatio,
		SafetyLevel: safety,
		Actions:     actions,
	}))
	l.log.Info().Str("safety", safety.StringFixed(0)).Msg("script done")

	status := StatusSuccess
	if !ok {
		status = StatusFailure
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.String()
	}
	if err := l.deps.Recorder.RecordRun(&recorder.RunRecord{
		RunID:          runID,
		StartedAt:      started,
		FinishedAt:     time.Now(),
		Outcome:        string(status),
		Actions:        names,
		RatioBefore:    oldRatio.InexactFloat64(),
		RatioAfter:     after.CollateralRatio.InexactFloat64(),
		NextRatioAfter: nextAfter.InexactFloat64(),
		SafetyLevel:    safety.InexactFloat64(),
	}); err != nil {
		l.log.Warn().Err(err).Msg("record run")
	}
	return status, nil
}

func (l *Loop) alert(ctx context.Context, msg string) {
	if err := l.deps.Notifier.Send(ctx, msg); err != nil {
		l.log.Error().Err(err).Msg("send alert")
	}
}

func (l *Loop) logMessage(ctx context.Context, msg string) {
	if err := l.deps.Notifier.Log(ctx, msg); err != nil {
		l.log.Error().Err(err).Msg("send log")
	}
}
