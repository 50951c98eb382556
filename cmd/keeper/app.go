package main

import (
	"fmt"

	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/logger"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/scheduler"
	"VaultKeeper/internal/store"
)

// app holds the wired collaborators of one process.
type app struct {
	gateway  *ledger.HTTPClient
	store    *store.FileStore
	notifier *notifier.TelegramNotifier
	recorder recorder.Recorder
	loop     *scheduler.Loop
}

func newApp() (*app, error) {
	log := logger.GetForComponent("main")

	st, err := store.NewFileStore(cfg.Keeper.StateFile, cfg.Settings())
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}
	// the config file owns the settings; the state file keeps a copy next to the state
	if err := st.UpdateSettings(cfg.Settings()); err != nil {
		return nil, fmt.Errorf("update stored settings: %w", err)
	}

	gw := ledger.NewHTTPClient(ledger.ClientConfig{
		BaseURL:            cfg.Ledger.BaseURL,
		APIKey:             cfg.Ledger.APIKey,
		VaultID:            cfg.Vault.VaultID,
		Address:            cfg.Vault.Address,
		Timeout:            cfg.Ledger.Timeout,
		ConfirmationBlocks: cfg.Ledger.ConfirmationBlocks,
		ReadRetryMaxTime:   cfg.Ledger.Timeout,
		Proxy:              cfg.Proxy,
	})
	log.Info().Str("ledger", gw.Name()).Str("url", cfg.Ledger.BaseURL).Msg("ledger client ready")

	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.LogChatID, messagePrefix(), cfg.Proxy)

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	loop := scheduler.NewLoop(scheduler.Deps{
		Gateway:  gw,
		Store:    st,
		Notifier: tn,
		Recorder: rec,
	}, scheduler.Options{
		MinTimePerAction:   cfg.Keeper.MinTimePerAction,
		ErrorCooldown:      cfg.Keeper.ErrorCooldown,
		MaxCleanupAttempts: cfg.Keeper.MaxCleanupAttempts,
		PollInterval:       cfg.Ledger.PollInterval,
	})

	return &app{gateway: gw, store: st, notifier: tn, recorder: rec, loop: loop}, nil
}

func (a *app) Close() {
	if err := a.recorder.Close(); err != nil {
		log := logger.GetForComponent("main")
		log.Warn().Err(err).Msg("close recorder")
	}
}

// messagePrefix tags every chat message, e.g. "[Keeper v1.2 prod]".
func messagePrefix() string {
	if cfg.Telegram.Prefix != "" {
		return cfg.Telegram.Prefix
	}
	p := "[Keeper " + version
	if cfg.Keeper.LogID != "" {
		p += " " + cfg.Keeper.LogID
	}
	return p + "]"
}
