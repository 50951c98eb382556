package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/model"
	"VaultKeeper/internal/recorder"
)

func newTestScheduler(t *testing.T, fx *loopFixture) *Scheduler {
	t.Helper()
	return NewScheduler(context.Background(), fx.loop, fx.store, fx.notifier, fx.recorder, time.Minute)
}

func TestScheduler_RegisterRejectsBadCron(t *testing.T) {
	fx := newLoopFixture(t, vaultWith("250", "250", "2500", "1000"), model.StateInformation{})
	s := newTestScheduler(t, fx)

	require.NoError(t, s.Register("0 */15 * * * *"))
	assert.Error(t, s.Register("not a cron"))
}

func TestScheduler_RunNowSkipsWhileRunning(t *testing.T) {
	fx := newLoopFixture(t, vaultWith("250", "250", "2500", "1000"), model.StateInformation{})
	s := newTestScheduler(t, fx)

	s.running.Lock()
	_, ran := s.RunNow(Event{})
	s.running.Unlock()
	assert.False(t, ran)
	assert.Zero(t, fx.ledger.TotalCalls())

	status, ran := s.RunNow(Event{})
	assert.True(t, ran)
	assert.Equal(t, StatusSuccess, status)
}

func TestScheduler_HandleCommand(t *testing.T) {
	fx := newLoopFixture(t, vaultWith("250", "250", "2500", "1000"), model.StateInformation{})
	fx.recorder.runs = []recorder.RunRecord{{Outcome: "success", RatioBefore: 251, RatioAfter: 251}}
	s := newTestScheduler(t, fx)
	ctx := context.Background()

	status := s.HandleCommand(ctx, "/status")
	assert.Contains(t, status, "state: idle")
	assert.Contains(t, status, "success ratio 251.00")

	assert.Contains(t, s.HandleCommand(ctx, "/help"), "/run")
	assert.Contains(t, s.HandleCommand(ctx, "hello"), "/status")

	assert.Empty(t, s.HandleCommand(ctx, "/check@keeper_bot"))
	assert.True(t, fx.notifier.alertContaining("setup check passed"))
}
