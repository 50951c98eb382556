package model

import (
	"fmt"
	"time"
)

// ProgramState is the phase of the recovery state machine.
type ProgramState string

const (
	StateIdle                  ProgramState = "idle"
	StateWaitingForTransaction ProgramState = "waiting_for_transaction"
	StateError                 ProgramState = "error"
)

// ActionKind names a rebalancing action.
type ActionKind string

const (
	ActionNone             ActionKind = ""
	ActionRemoveExposure   ActionKind = "remove_exposure"
	ActionDecreaseExposure ActionKind = "decrease_exposure"
	ActionIncreaseExposure ActionKind = "increase_exposure"
	ActionReinvest         ActionKind = "reinvest"
	ActionCleanUp          ActionKind = "clean_up" // payback of loose tokens after an interrupted action
)

func (a ActionKind) String() string {
	if a == ActionNone {
		return "none"
	}
	return string(a)
}

// RequiresCleanup reports whether an interrupted action of this kind can leave
// borrowed or withdrawn tokens loose in the wallet.
func (a ActionKind) RequiresCleanup() bool {
	switch a {
	case ActionRemoveExposure, ActionDecreaseExposure, ActionIncreaseExposure:
		return true
	default:
		return false
	}
}

// Step is a single ledger transaction within an action.
type Step string

const (
	StepNone              Step = ""
	StepRemoveLiquidity   Step = "remove_liquidity"
	StepPaybackLoan       Step = "payback_loan"
	StepTakeLoan          Step = "take_loan"
	StepAddLiquidity      Step = "add_liquidity"
	StepDepositCollateral Step = "deposit_collateral"
)

// Final reports whether the step completes its action.
func (s Step) Final() bool {
	switch s {
	case StepPaybackLoan, StepAddLiquidity, StepDepositCollateral:
		return true
	default:
		return false
	}
}

// StateInformation is persisted after every state-affecting step.
type StateInformation struct {
	State           ProgramState `json:"state"`
	PendingAction   ActionKind   `json:"pending_action,omitempty"`
	PendingStep     Step         `json:"pending_step,omitempty"`
	PendingTxID     string       `json:"pending_tx_id,omitempty"`
	BlockHeight     int64        `json:"block_height"`
	CleanupAttempts int          `json:"cleanup_attempts"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IdleState returns a fresh Idle state carrying over the cleanup counter.
func IdleState(cleanupAttempts int) StateInformation {
	return StateInformation{State: StateIdle, CleanupAttempts: cleanupAttempts}
}

// Validate checks the tx-id invariant: a tx id is present iff the program is waiting.
func (s StateInformation) Validate() error {
	switch s.State {
	case StateIdle, StateError:
		if s.PendingTxID != "" {
			return fmt.Errorf("state %s must not carry a pending tx (%s)", s.State, s.PendingTxID)
		}
	case StateWaitingForTransaction:
		if s.PendingTxID == "" {
			return fmt.Errorf("state %s requires a pending tx id", s.State)
		}
	default:
		return fmt.Errorf("unknown program state: %q", s.State)
	}
	return nil
}

// NeedsCleanup reports whether the pending step left the position in an
// intermediate form that a cleanup pass has to resolve.
func (s StateInformation) NeedsCleanup() bool {
	return s.PendingAction.RequiresCleanup() && !s.PendingStep.Final()
}

func (s StateInformation) String() string {
	if s.State == StateIdle {
		return string(s.State)
	}
	return fmt.Sprintf("%s action=%s step=%s tx=%q height=%d", s.State, s.PendingAction, s.PendingStep, s.PendingTxID, s.BlockHeight)
}

var validTransitions = map[ProgramState]map[ProgramState]bool{
	StateIdle: {
		StateIdle:                  true,
		StateWaitingForTransaction: true, // action submitted
		StateError:                 true, // emergency write
	},
	StateWaitingForTransaction: {
		StateIdle:                  true, // confirmed
		StateWaitingForTransaction: true, // next step of the same action
		StateError:                 true, // timed out or failed
	},
	StateError: {
		StateIdle:                  true, // after cleanup
		StateWaitingForTransaction: true, // cleanup payback only, see ValidateStart
	},
}

// ValidateStart checks that an action may submit a transaction from state.
// In Error only the cleanup payback may be sent.
func ValidateStart(state ProgramState, action ActionKind) error {
	if state == StateError && action != ActionCleanUp {
		return fmt.Errorf("cannot start %s in state %s, cleanup first", action, state)
	}
	return ValidateTransition(state, StateWaitingForTransaction)
}

// ValidateTransition checks that from -> to is allowed.
func ValidateTransition(from, to ProgramState) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
