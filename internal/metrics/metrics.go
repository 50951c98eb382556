// Package metrics exposes Prometheus collectors for the keeper.
//
//   - keeper_runs_total{outcome}             runs by outcome (success|failure|out_of_budget)
//   - keeper_actions_total{action,result}    exposure actions by result (ok|failed)
//   - keeper_recoveries_total{path}          recovery paths taken at run start
//   - keeper_collateral_ratio                last observed vault ratio
//   - keeper_next_collateral_ratio           last projected ratio
//   - keeper_safety_level                    last safety level (0..100)
//   - keeper_program_state{state}            1 for the persisted state, 0 otherwise
//
// Collectors are registered in init() and served by the daemon at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
)

var (
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_runs_total",
			Help: "Control loop runs by outcome",
		},
		[]string{"outcome"},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_actions_total",
			Help: "Exposure actions executed",
		},
		[]string{"action", "result"},
	)

	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_recoveries_total",
			Help: "Recovery paths taken at run start",
		},
		[]string{"path"},
	)

	collateralRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keeper_collateral_ratio",
			Help: "Current collateral ratio of the vault in percent",
		},
	)

	nextCollateralRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keeper_next_collateral_ratio",
			Help: "Projected collateral ratio after the next price update",
		},
	)

	safetyLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keeper_safety_level",
			Help: "Safety level of the vault, 0 at min ratio, 100 at the band midpoint",
		},
	)

	// one series per state, flipped between 0 and 1
	programState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keeper_program_state",
			Help: "Persisted recovery state (1 = current)",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(runs, actions, recoveries, collateralRatio, nextCollateralRatio, safetyLevel, programState)
}

// RunFinished counts a finished run.
func RunFinished(outcome string) {
	runs.WithLabelValues(outcome).Inc()
}

// ActionExecuted counts an exposure action.
func ActionExecuted(action model.ActionKind, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	actions.WithLabelValues(action.String(), result).Inc()
}

// Recovery counts a recovery path.
func Recovery(path string) {
	recoveries.WithLabelValues(path).Inc()
}

// ObserveVault updates the ratio gauges.
func ObserveVault(current, next, safety decimal.Decimal) {
	collateralRatio.Set(current.InexactFloat64())
	nextCollateralRatio.Set(next.InexactFloat64())
	safetyLevel.Set(safety.InexactFloat64())
}

// SetProgramState flips the state gauge to the given state.
func SetProgramState(state model.ProgramState) {
	for _, s := range []model.ProgramState{model.StateIdle, model.StateWaitingForTransaction, model.StateError} {
		v := 0.0
		if s == state {
			v = 1
		}
		programState.WithLabelValues(string(s)).Set(v)
	}
}
