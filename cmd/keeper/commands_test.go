package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/config"
	"VaultKeeper/internal/model"
)

func newRunFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().Float64Var(&runMinRatio, "min-ratio", 0, "")
	cmd.Flags().Float64Var(&runMaxRatio, "max-ratio", 0, "")
	cmd.Flags().StringVar(&runToken, "token", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestOverrideFromFlags_NoneSet(t *testing.T) {
	assert.Nil(t, overrideFromFlags(newRunFlags(t)))
}

func TestOverrideFromFlags_OnlyChangedFields(t *testing.T) {
	o := overrideFromFlags(newRunFlags(t, "--max-ratio", "-1", "--token", "TSLA"))
	require.NotNil(t, o)
	assert.Nil(t, o.MinRatio)
	require.NotNil(t, o.MaxRatio)
	assert.Equal(t, "-1", o.MaxRatio.String())
	require.NotNil(t, o.TargetToken)
	assert.Equal(t, "TSLA", *o.TargetToken)
}

func TestMessagePrefix(t *testing.T) {
	cfg = &config.Config{}
	assert.Equal(t, "[Keeper dev]", messagePrefix())

	cfg.Keeper.LogID = "prod"
	assert.Equal(t, "[Keeper dev prod]", messagePrefix())

	cfg.Telegram.Prefix = "[vault-1]"
	assert.Equal(t, "[vault-1]", messagePrefix())
}

func TestNewApp_ConfigSettingsWinOverStoredCopy(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	cfg = &config.Config{}
	cfg.Keeper.StateFile = stateFile
	cfg.Vault.VaultID = "v1"
	cfg.Vault.MinRatio = 200
	cfg.Vault.MaxRatio = 300
	cfg.Vault.TargetToken = "GLD"

	a, err := newApp()
	require.NoError(t, err)
	a.Close()

	// the operator edits the config file between invocations
	cfg.Vault.MinRatio = 250
	cfg.Vault.MaxRatio = 350
	cfg.Vault.TargetToken = "SPY"

	a, err = newApp()
	require.NoError(t, err)
	defer a.Close()
	settings, state, err := a.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "250", settings.MinRatio.String())
	assert.Equal(t, "350", settings.MaxRatio.String())
	assert.Equal(t, "SPY", settings.TargetToken)
	assert.Equal(t, model.StateIdle, state.State)
}
