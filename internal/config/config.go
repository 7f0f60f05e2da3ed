package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type PackageConfig struct {
	Key     string  `yaml:"key"`
	Title   string  `yaml:"title"`
	Price   float64 `yaml:"price"`
	Credits int64   `yaml:"credits"`
}

type Config struct {
	Server struct {
		Addr       string `yaml:"addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Provider struct {
		BaseURL            string `yaml:"base_url"`
		Token              string `yaml:"token"`
		Receiver           string `yaml:"receiver"`
		LabelPrefix        string `yaml:"label_prefix"`
		NotificationSecret string `yaml:"notification_secret"`
		WebhookPath        string `yaml:"webhook_path"`
		HistoryRecords     int    `yaml:"history_records"`
		DetailBudget       int    `yaml:"detail_budget"`
		DryRun             bool   `yaml:"dry_run"`
	} `yaml:"provider"`
	Worker struct {
		IntervalSeconds      int     `yaml:"interval_seconds"`
		LookbackHours        int     `yaml:"lookback_hours"`
		GraceSeconds         int     `yaml:"grace_seconds"`
		AmountTolerance      float64 `yaml:"amount_tolerance"`
		CardFeeRate          float64 `yaml:"card_fee_rate"`
		WalletFeeRate        float64 `yaml:"wallet_fee_rate"`
		CleanupIntervalHours int     `yaml:"cleanup_interval_hours"`
		RetentionDays        int     `yaml:"retention_days"`
	} `yaml:"worker"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		APIBase  string `yaml:"api_base"`
	} `yaml:"telegram"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Packages []PackageConfig `yaml:"packages"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://yoomoney.ru"
	}
	if cfg.Provider.LabelPrefix == "" {
		cfg.Provider.LabelPrefix = "lunapay"
	}
	if cfg.Provider.WebhookPath == "" {
		cfg.Provider.WebhookPath = "/webhooks/payment"
	}
	if cfg.Provider.HistoryRecords <= 0 {
		cfg.Provider.HistoryRecords = 100
	}
	if cfg.Provider.DetailBudget <= 0 {
		cfg.Provider.DetailBudget = 20
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 45
	}
	if cfg.Worker.LookbackHours <= 0 {
		cfg.Worker.LookbackHours = 72
	}
	if cfg.Worker.GraceSeconds <= 0 {
		cfg.Worker.GraceSeconds = 300
	}
	if cfg.Worker.AmountTolerance <= 0 {
		cfg.Worker.AmountTolerance = 0.02
	}
	if cfg.Worker.CardFeeRate <= 0 {
		cfg.Worker.CardFeeRate = 0.03
	}
	if cfg.Worker.WalletFeeRate <= 0 {
		cfg.Worker.WalletFeeRate = 0.01
	}
	if cfg.Worker.CleanupIntervalHours <= 0 {
		cfg.Worker.CleanupIntervalHours = 24
	}
	if cfg.Worker.RetentionDays <= 0 {
		cfg.Worker.RetentionDays = 7
	}
	if cfg.Telegram.APIBase == "" {
		cfg.Telegram.APIBase = "https://api.telegram.org"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func (cfg *Config) validate() error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if len(cfg.Packages) == 0 {
		return errors.New("at least one package is required")
	}
	for _, p := range cfg.Packages {
		if p.Key == "" || p.Price <= 0 || p.Credits <= 0 {
			return fmt.Errorf("package %q is incomplete", p.Key)
		}
	}
	// A pending intent must outlive the matching window, otherwise cleanup
	// could delete an intent whose operation is still inside the lookback.
	if cfg.RetentionWindow() <= cfg.Lookback() {
		return errors.New("worker.retention_days must exceed worker.lookback_hours")
	}
	return nil
}

func (cfg *Config) SweepInterval() time.Duration {
	return time.Duration(cfg.Worker.IntervalSeconds) * time.Second
}

func (cfg *Config) Lookback() time.Duration {
	return time.Duration(cfg.Worker.LookbackHours) * time.Hour
}

func (cfg *Config) Grace() time.Duration {
	return time.Duration(cfg.Worker.GraceSeconds) * time.Second
}

func (cfg *Config) CleanupInterval() time.Duration {
	return time.Duration(cfg.Worker.CleanupIntervalHours) * time.Hour
}

func (cfg *Config) RetentionWindow() time.Duration {
	return time.Duration(cfg.Worker.RetentionDays) * 24 * time.Hour
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("PROVIDER_RECEIVER"); v != "" {
		cfg.Provider.Receiver = v
	}
	if v := os.Getenv("PROVIDER_LABEL_PREFIX"); v != "" {
		cfg.Provider.LabelPrefix = v
	}
	if v := os.Getenv("PROVIDER_NOTIFICATION_SECRET"); v != "" {
		cfg.Provider.NotificationSecret = v
	}
	if v := os.Getenv("PROVIDER_WEBHOOK_PATH"); v != "" {
		cfg.Provider.WebhookPath = v
	}
	if v := os.Getenv("PROVIDER_HISTORY_RECORDS"); v != "" {
		cfg.Provider.HistoryRecords = atoiOr(cfg.Provider.HistoryRecords, v)
	}
	if v := os.Getenv("PROVIDER_DETAIL_BUDGET"); v != "" {
		cfg.Provider.DetailBudget = atoiOr(cfg.Provider.DetailBudget, v)
	}
	if v := os.Getenv("PROVIDER_DRY_RUN"); v != "" {
		cfg.Provider.DryRun = v == "1" || v == "true"
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_LOOKBACK_HOURS"); v != "" {
		cfg.Worker.LookbackHours = atoiOr(cfg.Worker.LookbackHours, v)
	}
	if v := os.Getenv("WORKER_GRACE_SECONDS"); v != "" {
		cfg.Worker.GraceSeconds = atoiOr(cfg.Worker.GraceSeconds, v)
	}
	if v := os.Getenv("WORKER_RETENTION_DAYS"); v != "" {
		cfg.Worker.RetentionDays = atoiOr(cfg.Worker.RetentionDays, v)
	}
	if v := os.Getenv("WORKER_CLEANUP_INTERVAL_HOURS"); v != "" {
		cfg.Worker.CleanupIntervalHours = atoiOr(cfg.Worker.CleanupIntervalHours, v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_API_BASE"); v != "" {
		cfg.Telegram.APIBase = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
