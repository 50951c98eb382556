package store

import (
	"context"

	"VaultKeeper/internal/model"
)

// SettingsStore persists operator settings and the recovery state.
// Implementations must not depend on the ledger: the store is the
// emergency write path when the ledger is the thing that failed.
type SettingsStore interface {
	Load(ctx context.Context) (model.Settings, model.StateInformation, error)
	Save(ctx context.Context, state model.StateInformation) error
}
