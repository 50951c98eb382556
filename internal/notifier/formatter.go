package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
	"VaultKeeper/internal/recorder"
)

// RunSummary is what a finished run reports.
type RunSummary struct {
	Changed     bool
	OK          bool
	RatioBefore decimal.Decimal
	NextBefore  decimal.Decimal
	RatioAfter  decimal.Decimal
	NextAfter   decimal.Decimal
	MinRatio    decimal.Decimal
	MaxRatio    decimal.Decimal
	SafetyLevel decimal.Decimal
	Actions     []model.ActionKind
}

// Escape makes free text (error messages, ledger responses) safe inside an
// HTML-formatted Telegram message.
func Escape(s string) string {
	return html.EscapeString(s)
}

// FormatRunSummary renders the routine message sent after every run.
func FormatRunSummary(s RunSummary) string {
	var b strings.Builder
	b.WriteString("executed script ")
	if s.Changed {
		if s.OK {
			b.WriteString("successfully")
		} else {
			b.WriteString("with problems")
		}
		b.WriteString(fmt.Sprintf(".\nvault ratio changed from %s (next %s) to %s (next %s).",
			s.RatioBefore, s.NextBefore, s.RatioAfter, s.NextAfter))
		if len(s.Actions) > 0 {
			names := make([]string, len(s.Actions))
			for i, a := range s.Actions {
				names[i] = a.String()
			}
			b.WriteString("\nactions: " + strings.Join(names, ", "))
		}
	} else {
		b.WriteString(fmt.Sprintf("without changes.\nvault ratio %s next %s.", s.RatioBefore, s.NextBefore))
	}
	b.WriteString(fmt.Sprintf("\ntarget range %s - %s", s.MinRatio, s.MaxRatio))
	b.WriteString(fmt.Sprintf("\ncurrent safetylevel: %s%%", s.SafetyLevel.StringFixed(0)))
	return b.String()
}

// FormatStatus renders the /status reply.
func FormatStatus(settings model.Settings, state model.StateInformation, runs []recorder.RunRecord) string {
	var b strings.Builder
	b.WriteString("📦 <b>keeper status</b>\n\n")
	b.WriteString(fmt.Sprintf("vault: %s\n", Escape(settings.VaultID)))
	b.WriteString(fmt.Sprintf("target range: %s - %s (%s)\n", settings.MinRatio, settings.MaxRatio, Escape(settings.Pair())))
	b.WriteString(fmt.Sprintf("state: %s\n", state.State))
	if state.State != model.StateIdle {
		b.WriteString(fmt.Sprintf("pending: %s / %s\n", state.PendingAction, state.PendingStep))
		if state.PendingTxID != "" {
			b.WriteString(fmt.Sprintf("tx: %s (block %d)\n", Escape(state.PendingTxID), state.BlockHeight))
		}
	}
	if state.CleanupAttempts > 0 {
		b.WriteString(fmt.Sprintf("cleanups in a row: %d\n", state.CleanupAttempts))
	}
	if !state.UpdatedAt.IsZero() {
		b.WriteString(fmt.Sprintf("updated: %s\n", state.UpdatedAt.Format("2006-01-02 15:04")))
	}
	if len(runs) > 0 {
		b.WriteString("\n<b>recent runs</b>\n")
		for _, r := range runs {
			b.WriteString(fmt.Sprintf("%s %s ratio %.2f → %.2f\n",
				r.StartedAt.Format("01-02 15:04"), r.Outcome, r.RatioBefore, r.RatioAfter))
		}
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "🤖 <b>VaultKeeper</b>\n\n" +
		"/status - persisted state and recent runs\n" +
		"/check - validate the setup against the ledger\n" +
		"/run - start a run now\n" +
		"/help - this message"
}
