package recovery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/exposure"
	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/ledger/ledgertest"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/store"
)

type memNotifier struct {
	mu     sync.Mutex
	alerts []string
	logs   []string
}

func (n *memNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
	return nil
}

func (n *memNotifier) Log(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, text)
	return nil
}

type memRecorder struct {
	recorder.NoopRecorder
	transitions []recorder.TransitionEvent
}

func (r *memRecorder) RecordTransition(evt *recorder.TransitionEvent) error {
	r.transitions = append(r.transitions, *evt)
	return nil
}

func (r *memRecorder) path() []string {
	var out []string
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

type fixture struct {
	ledger     *ledgertest.Fake
	store      *store.FileStore
	notifier   *memNotifier
	recorder   *memRecorder
	controller *Controller
}

func newFixture(t *testing.T, state model.StateInformation, maxAttempts int) *fixture {
	t.Helper()
	settings := model.Settings{
		VaultID: "v1", Address: "addr",
		MinRatio: decimal.NewFromInt(200), MaxRatio: decimal.NewFromInt(300),
		TargetToken: "GLD", StableToken: "DUSD", CollateralToken: "DFI",
	}
	f := ledgertest.New()
	f.Vault = model.Vault{
		ID: "v1", State: model.VaultActive,
		CollateralRatio: decimal.NewFromInt(250),
		LoanAmounts: []model.TokenAmount{
			{Symbol: "GLD", Amount: decimal.NewFromInt(5)},
			{Symbol: "DUSD", Amount: decimal.NewFromInt(500)},
		},
	}
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "state.json"), settings)
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), state))

	n := &memNotifier{}
	rec := &memRecorder{}
	p := exposure.NewProgram(f, st, rec, n, settings, state, exposure.Options{PollInterval: time.Millisecond})
	return &fixture{ledger: f, store: st, notifier: n, recorder: rec, controller: NewController(p, n, maxAttempts)}
}

func (fx *fixture) persisted(t *testing.T) model.StateInformation {
	t.Helper()
	_, state, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	return state
}

func waiting(action model.ActionKind, step model.Step) model.StateInformation {
	return model.StateInformation{
		State:         model.StateWaitingForTransaction,
		PendingAction: action,
		PendingStep:   step,
		PendingTxID:   "tx-prev",
		BlockHeight:   95,
	}
}

func TestResolve_IdleIsIdempotent(t *testing.T) {
	fx := newFixture(t, model.IdleState(0), 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := fx.controller.Resolve(ctx, model.IdleState(0))
		require.NoError(t, err)
		assert.Equal(t, PathNone, res.Path)
		assert.False(t, res.Refreshed)
	}
	assert.Zero(t, fx.ledger.TotalCalls())
	assert.Empty(t, fx.recorder.transitions)
}

func TestResolve_WaitingConfirmedGoesIdle(t *testing.T) {
	state := waiting(model.ActionReinvest, model.StepDepositCollateral)
	fx := newFixture(t, state, 3)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, PathConfirmed, res.Path)
	assert.True(t, res.Refreshed)
	assert.True(t, res.Vault.CollateralRatio.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, model.StateIdle, fx.persisted(t).State)
	assert.Empty(t, fx.ledger.Submitted)
	assert.Empty(t, fx.notifier.alerts)
}

func TestResolve_WaitingFinalStepOfCleanupActionGoesIdle(t *testing.T) {
	state := waiting(model.ActionIncreaseExposure, model.StepAddLiquidity)
	fx := newFixture(t, state, 3)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, PathConfirmed, res.Path)
	assert.Equal(t, []string{"idle"}, fx.recorder.path())
}

func TestResolve_WaitingTimedOutGoesErrorThenCleanup(t *testing.T) {
	state := waiting(model.ActionReinvest, model.StepDepositCollateral)
	fx := newFixture(t, state, 3)
	fx.ledger.SetStatus("tx-prev", ledger.TimedOut)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, PathCleanedUp, res.Path)
	assert.True(t, res.CleanupOK)
	assert.Equal(t, []string{"error", "idle"}, fx.recorder.path())

	final := fx.persisted(t)
	assert.Equal(t, model.StateIdle, final.State)
	assert.Equal(t, 1, final.CleanupAttempts)
	assert.Contains(t, fx.notifier.alerts, "Successfully cleaned up after some error happened")
}

func TestResolve_IntermediateStepForcesCleanup(t *testing.T) {
	state := waiting(model.ActionIncreaseExposure, model.StepTakeLoan)
	fx := newFixture(t, state, 3)
	fx.ledger.Balances["GLD"] = decimal.NewFromInt(1)
	fx.ledger.Balances["DUSD"] = decimal.NewFromInt(100)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, res.CleanupOK)
	assert.Equal(t, []string{"error", "waiting_for_transaction", "idle"}, fx.recorder.path())
	require.Equal(t, []ledger.OpType{ledger.OpPaybackLoan}, fx.ledger.SubmittedTypes())
	assert.Len(t, fx.ledger.Submitted[0].Amounts, 2)
	assert.Equal(t, 1, fx.persisted(t).CleanupAttempts)
}

func TestResolve_InterruptedActionCountsItsOwnPath(t *testing.T) {
	state := waiting(model.ActionDecreaseExposure, model.StepRemoveLiquidity)
	fx := newFixture(t, state, 3)
	interrupted := recoveryCount(t, PathInterrupted)
	confirmed := recoveryCount(t, PathConfirmed)

	_, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, interrupted+1, recoveryCount(t, PathInterrupted))
	assert.Equal(t, confirmed, recoveryCount(t, PathConfirmed))
}

func TestResolve_BudgetEndsDuringCleanupPayback(t *testing.T) {
	state := model.StateInformation{State: model.StateError, PendingAction: model.ActionIncreaseExposure, PendingStep: model.StepTakeLoan}
	fx := newFixture(t, state, 3)
	fx.ledger.Balances["DUSD"] = decimal.NewFromInt(50)
	fx.ledger.SetStatus("tx-1", ledger.Pending)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fx.controller.Resolve(ctx, state)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	persisted := fx.persisted(t)
	assert.Equal(t, model.StateWaitingForTransaction, persisted.State)
	assert.Equal(t, model.ActionCleanUp, persisted.PendingAction)
	assert.Equal(t, "tx-1", persisted.PendingTxID)
	assert.Equal(t, 1, persisted.CleanupAttempts)
	assert.Empty(t, fx.notifier.alerts)

	// the next invocation resumes the payback instead of sending another one
	fx.ledger.SetStatus("tx-1", ledger.Confirmed)
	res, err := fx.controller.Resolve(context.Background(), persisted)
	require.NoError(t, err)
	assert.Equal(t, PathConfirmed, res.Path)
	assert.Len(t, fx.ledger.Submitted, 1)
	final := fx.persisted(t)
	assert.Equal(t, model.StateIdle, final.State)
	assert.Equal(t, 1, final.CleanupAttempts)
}

func TestResolve_ResumedCleanupAtLimitIsExhausted(t *testing.T) {
	state := waiting(model.ActionCleanUp, model.StepPaybackLoan)
	state.CleanupAttempts = 3
	fx := newFixture(t, state, 3)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, PathExhausted, res.Path)
	assert.Empty(t, fx.ledger.Submitted)
	require.Len(t, fx.notifier.alerts, 1)
	assert.Contains(t, fx.notifier.alerts[0], "cleanup ran 3 times")
}

func recoveryCount(t *testing.T, path Path) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "keeper_recoveries_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" && l.GetValue() == string(path) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestResolve_BudgetEndsDuringWait(t *testing.T) {
	state := waiting(model.ActionDecreaseExposure, model.StepPaybackLoan)
	fx := newFixture(t, state, 3)
	fx.ledger.SetStatus("tx-prev", ledger.Pending)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fx.controller.Resolve(ctx, state)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	persisted := fx.persisted(t)
	assert.Equal(t, model.StateWaitingForTransaction, persisted.State)
	assert.Equal(t, "tx-prev", persisted.PendingTxID)
}

func TestResolve_CrashSimulationNeverStaysWaiting(t *testing.T) {
	for _, status := range []ledger.ConfirmStatus{ledger.Confirmed, ledger.TimedOut} {
		t.Run(string(status), func(t *testing.T) {
			state := waiting(model.ActionDecreaseExposure, model.StepPaybackLoan)
			fx := newFixture(t, state, 3)
			fx.ledger.SetStatus("tx-prev", status)

			// a fresh process reads the persisted state
			_, loaded, err := fx.store.Load(context.Background())
			require.NoError(t, err)
			_, err = fx.controller.Resolve(context.Background(), loaded)
			require.NoError(t, err)

			first := fx.recorder.transitions[0].To
			if status == ledger.Confirmed {
				assert.Equal(t, "idle", first)
			} else {
				assert.Equal(t, "error", first)
			}
			assert.NotEqual(t, model.StateWaitingForTransaction, fx.persisted(t).State)
		})
	}
}

func TestResolve_CleanupFailureStillGoesIdle(t *testing.T) {
	state := model.StateInformation{State: model.StateError, PendingAction: model.ActionIncreaseExposure, PendingStep: model.StepTakeLoan}
	fx := newFixture(t, state, 3)
	fx.ledger.Balances["DUSD"] = decimal.NewFromInt(100)
	fx.ledger.SetErr("Submit", &ledger.Error{Kind: ledger.KindRejected, Op: "submit"})

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, res.CleanupOK)
	assert.False(t, res.Exhausted)
	assert.Equal(t, model.StateIdle, fx.persisted(t).State)
	assert.Contains(t, fx.notifier.alerts, "There was an error in recovering from a failed state. please check yourself!")
	require.Len(t, fx.notifier.logs, 1)
	assert.Contains(t, fx.notifier.logs[0], "with problems")
}

func TestResolve_CleanupAttemptsAreBounded(t *testing.T) {
	state := model.StateInformation{State: model.StateError, CleanupAttempts: 2}
	fx := newFixture(t, state, 3)

	res, err := fx.controller.Resolve(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, PathExhausted, res.Path)
	assert.Equal(t, 3, fx.persisted(t).CleanupAttempts)
	require.Len(t, fx.notifier.alerts, 1)
	assert.Contains(t, fx.notifier.alerts[0], "cleanup ran 3 times")

	// the next run starts Idle but stays blocked, without touching the ledger
	calls := fx.ledger.TotalCalls()
	res, err = fx.controller.Resolve(context.Background(), fx.persisted(t))
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, calls, fx.ledger.TotalCalls())
}
