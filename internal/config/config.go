package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"VaultKeeper/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken  string `yaml:"bot_token"`
		ChatID    string `yaml:"chat_id"`
		LogChatID string `yaml:"log_chat_id"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"telegram"`
	Ledger Ledger `yaml:"ledger"`
	Vault  struct {
		VaultID           string  `yaml:"vault_id"`
		Address           string  `yaml:"address"`
		MinRatio          float64 `yaml:"min_ratio"`
		MaxRatio          float64 `yaml:"max_ratio"`
		TargetToken       string  `yaml:"target_token"`
		StableToken       string  `yaml:"stable_token"`
		CollateralToken   string  `yaml:"collateral_token"`
		ReinvestThreshold float64 `yaml:"reinvest_threshold"`
	} `yaml:"vault"`
	Keeper   Keeper `yaml:"keeper"`
	Schedule struct {
		RunCron   string        `yaml:"run_cron"`
		RunBudget time.Duration `yaml:"run_budget"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Ledger configures the ledger service client.
type Ledger struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	ConfirmationBlocks int64         `yaml:"confirmation_blocks"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

// Keeper configures the control loop.
type Keeper struct {
	StateFile          string        `yaml:"state_file"`
	MinTimePerAction   time.Duration `yaml:"min_time_per_action"`
	ErrorCooldown      time.Duration `yaml:"error_cooldown"`
	MaxCleanupAttempts int           `yaml:"max_cleanup_attempts"`
	LogID              string        `yaml:"log_id"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_LOG_CHAT_ID"); v != "" {
		cfg.Telegram.LogChatID = v
	}
	if v := os.Getenv("LEDGER_URL"); v != "" {
		cfg.Ledger.BaseURL = v
	}
	if v := os.Getenv("LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("KEEPER_LOGID"); v != "" {
		cfg.Keeper.LogID = v
	}
	if v := os.Getenv("KEEPER_STATE_FILE"); v != "" {
		cfg.Keeper.StateFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("RUN_CRON"); v != "" {
		cfg.Schedule.RunCron = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Vault.StableToken == "" {
		c.Vault.StableToken = "DUSD"
	}
	if c.Vault.CollateralToken == "" {
		c.Vault.CollateralToken = "DFI"
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = 30 * time.Second
	}
	if c.Ledger.ConfirmationBlocks == 0 {
		c.Ledger.ConfirmationBlocks = 10
	}
	if c.Ledger.PollInterval == 0 {
		c.Ledger.PollInterval = 5 * time.Second
	}
	if c.Keeper.StateFile == "" {
		c.Keeper.StateFile = "data/keeper_state.json"
	}
	if c.Keeper.MinTimePerAction == 0 {
		c.Keeper.MinTimePerAction = 5 * time.Minute
	}
	if c.Keeper.ErrorCooldown == 0 {
		c.Keeper.ErrorCooldown = 60 * time.Second
	}
	if c.Keeper.MaxCleanupAttempts == 0 {
		c.Keeper.MaxCleanupAttempts = 3
	}
	if c.Schedule.RunCron == "" {
		c.Schedule.RunCron = "0 */15 * * * *"
	}
	if c.Schedule.RunBudget == 0 {
		c.Schedule.RunBudget = 14 * time.Minute
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/keeper.db"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9102
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if c.Vault.VaultID == "" {
		return fmt.Errorf("vault.vault_id is required")
	}
	if c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required")
	}
	if c.Vault.TargetToken == "" {
		return fmt.Errorf("vault.target_token is required")
	}
	if c.Vault.MinRatio <= 0 {
		return fmt.Errorf("vault.min_ratio must be positive")
	}
	if c.Vault.MaxRatio > 0 && c.Vault.MaxRatio <= c.Vault.MinRatio {
		return fmt.Errorf("vault.max_ratio must be above vault.min_ratio (or <= 0 to disable leverage)")
	}
	if c.Keeper.MaxCleanupAttempts < 1 {
		return fmt.Errorf("keeper.max_cleanup_attempts must be at least 1")
	}
	if c.Schedule.RunBudget < c.Keeper.MinTimePerAction {
		return fmt.Errorf("schedule.run_budget (%s) is shorter than keeper.min_time_per_action (%s)", c.Schedule.RunBudget, c.Keeper.MinTimePerAction)
	}
	return nil
}

// Settings returns the configured vault settings used to seed the store.
func (c *Config) Settings() model.Settings {
	return model.Settings{
		VaultID:           c.Vault.VaultID,
		Address:           c.Vault.Address,
		MinRatio:          decimal.NewFromFloat(c.Vault.MinRatio),
		MaxRatio:          decimal.NewFromFloat(c.Vault.MaxRatio),
		TargetToken:       c.Vault.TargetToken,
		StableToken:       c.Vault.StableToken,
		CollateralToken:   c.Vault.CollateralToken,
		ReinvestThreshold: decimal.NewFromFloat(c.Vault.ReinvestThreshold),
	}
}
