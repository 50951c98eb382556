package recorder

import "time"

// RunRecord is one control-loop invocation.
type RunRecord struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        string // "success", "failure", "out_of_budget"
	Actions        []string
	RatioBefore    float64
	RatioAfter     float64
	NextRatioAfter float64
	SafetyLevel    float64
	Note           string
}

// TransitionEvent records a persisted state change of the recovery machine.
type TransitionEvent struct {
	RunID       string
	From        string
	To          string
	Action      string
	Step        string
	TxID        string
	BlockHeight int64
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordRun(rec *RunRecord) error
	RecordTransition(evt *TransitionEvent) error
	RecentRuns(limit int) ([]RunRecord, error)
	Close() error
}
