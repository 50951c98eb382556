package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/model"
)

func defaults() model.Settings {
	return model.Settings{
		VaultID:     "v1",
		MinRatio:    decimal.NewFromInt(200),
		MaxRatio:    decimal.NewFromInt(300),
		TargetToken: "GLD",
		StableToken: "DUSD",
	}
}

func TestFileStore_FirstRunIsIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.json")
	s, err := NewFileStore(path, defaults())
	require.NoError(t, err)

	settings, state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, state.State)
	assert.Equal(t, "GLD", settings.TargetToken)
	assert.FileExists(t, path)
}

func TestFileStore_StateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path, defaults())
	require.NoError(t, err)

	waiting := model.StateInformation{
		State:         model.StateWaitingForTransaction,
		PendingAction: model.ActionIncreaseExposure,
		PendingStep:   model.StepTakeLoan,
		PendingTxID:   "tx-1",
		BlockHeight:   99,
	}
	require.NoError(t, s.Save(ctx, waiting))

	// a new process with different defaults must not reseed
	other := defaults()
	other.TargetToken = "TSLA"
	restarted, err := NewFileStore(path, other)
	require.NoError(t, err)

	settings, state, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GLD", settings.TargetToken)
	assert.Equal(t, model.StateWaitingForTransaction, state.State)
	assert.Equal(t, "tx-1", state.PendingTxID)
	assert.Equal(t, model.ActionIncreaseExposure, state.PendingAction)
	assert.Equal(t, int64(99), state.BlockHeight)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestFileStore_RejectsInvalidState(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"), defaults())
	require.NoError(t, err)

	err = s.Save(context.Background(), model.StateInformation{State: model.StateWaitingForTransaction})
	assert.Error(t, err)

	_, state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, state.State)
}

func TestFileStore_UpdateSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path, defaults())
	require.NoError(t, err)

	next := defaults()
	next.MaxRatio = decimal.Zero
	require.NoError(t, s.UpdateSettings(next))

	settings, _, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.LeverageDisabled())
}
