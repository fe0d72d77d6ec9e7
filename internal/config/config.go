package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Filter     FilterConfig     `yaml:"filter"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Patterns   PatternConfig    `yaml:"patterns"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Web        WebConfig        `yaml:"web"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ExchangeConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	WSURL     string `yaml:"ws_url"`
}

type FilterConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TradingConfig struct {
	MaxPositionKRW         float64 `yaml:"max_position_krw"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	CooldownMinutes        int     `yaml:"cooldown_minutes"`
	DefaultStopLossPct     float64 `yaml:"default_stop_loss_pct"`
	TakeProfitPct          float64 `yaml:"take_profit_pct"`
	TrailingEnabled        bool    `yaml:"trailing_enabled"`
	TrailingTriggerPct     float64 `yaml:"trailing_trigger_pct"`
	TrailingOffsetPct      float64 `yaml:"trailing_offset_pct"`
	MaxHoldingMinutes      int     `yaml:"max_holding_minutes"`
	MonitorIntervalSeconds int     `yaml:"monitor_interval_seconds"`
	AbandonedRetryMinutes  int     `yaml:"abandoned_retry_minutes"`
	MaxCloseAttempts       int     `yaml:"max_close_attempts"`
	MaxAbandonRetries      int     `yaml:"max_abandon_retries"`
	CloseWaitSeconds       int     `yaml:"close_wait_seconds"`
	CloseErrorMinutes      int     `yaml:"close_error_minutes"`
	MinConfluenceScore     float64 `yaml:"min_confluence_score"`
	MaxEntryRSI            float64 `yaml:"max_entry_rsi"`
	SignalWorkers          int     `yaml:"signal_workers"`
	SignalQueueSize        int     `yaml:"signal_queue_size"`
}

type RiskConfig struct {
	MaxConsecutiveLosses  int     `yaml:"max_consecutive_losses"`
	MaxDailyLossKRW       float64 `yaml:"max_daily_loss_krw"`
	MaxDailyLossPct       float64 `yaml:"max_daily_loss_pct"`
	MaxExecFailures       int     `yaml:"max_exec_failures"`
	SlippagePct           float64 `yaml:"slippage_pct"`
	MaxSlippageStreak     int     `yaml:"max_slippage_streak"`
	MaxAPIErrorsPerMinute int     `yaml:"max_api_errors_per_minute"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct"`
}

type PatternConfig struct {
	FakeoutWindowMinutes int     `yaml:"fakeout_window_minutes"`
	FakeoutVolumeRatio   float64 `yaml:"fakeout_volume_ratio"`
	OverboughtRSI        float64 `yaml:"overbought_rsi"`
	BandTopPosition      float64 `yaml:"band_top_position"`
	WeakVolumeRatio      float64 `yaml:"weak_volume_ratio"`
	LowConfluenceScore   float64 `yaml:"low_confluence_score"`
}

type StrategyConfig struct {
	Name     string   `yaml:"name"`
	Markets  []string `yaml:"markets"`
	Interval string   `yaml:"interval"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.upbit.com"
	}
	if cfg.Exchange.WSURL == "" {
		cfg.Exchange.WSURL = "wss://api.upbit.com/websocket/v1"
	}
	if cfg.Filter.Model == "" {
		cfg.Filter.Model = "gpt-4o-mini"
	}
	if cfg.Filter.TimeoutSeconds == 0 {
		cfg.Filter.TimeoutSeconds = 60
	}
	if cfg.Trading.MaxPositionKRW == 0 {
		cfg.Trading.MaxPositionKRW = 100000
	}
	if cfg.Trading.MaxConcurrentPositions == 0 {
		cfg.Trading.MaxConcurrentPositions = 3
	}
	if cfg.Trading.CooldownMinutes == 0 {
		cfg.Trading.CooldownMinutes = 30
	}
	if cfg.Trading.DefaultStopLossPct == 0 {
		cfg.Trading.DefaultStopLossPct = 3.0
	}
	if cfg.Trading.TakeProfitPct == 0 {
		cfg.Trading.TakeProfitPct = 5.0
	}
	if cfg.Trading.TrailingTriggerPct == 0 {
		cfg.Trading.TrailingTriggerPct = 5.0
	}
	if cfg.Trading.TrailingOffsetPct == 0 {
		cfg.Trading.TrailingOffsetPct = 2.0
	}
	if cfg.Trading.MaxHoldingMinutes == 0 {
		cfg.Trading.MaxHoldingMinutes = 240
	}
	if cfg.Trading.MonitorIntervalSeconds == 0 {
		cfg.Trading.MonitorIntervalSeconds = 1
	}
	if cfg.Trading.AbandonedRetryMinutes == 0 {
		cfg.Trading.AbandonedRetryMinutes = 10
	}
	if cfg.Trading.MaxCloseAttempts == 0 {
		cfg.Trading.MaxCloseAttempts = 3
	}
	if cfg.Trading.MaxAbandonRetries == 0 {
		cfg.Trading.MaxAbandonRetries = 3
	}
	if cfg.Trading.CloseWaitSeconds == 0 {
		cfg.Trading.CloseWaitSeconds = 30
	}
	if cfg.Trading.CloseErrorMinutes == 0 {
		cfg.Trading.CloseErrorMinutes = 5
	}
	if cfg.Trading.MinConfluenceScore == 0 {
		cfg.Trading.MinConfluenceScore = 60
	}
	if cfg.Trading.MaxEntryRSI == 0 {
		cfg.Trading.MaxEntryRSI = 70
	}
	if cfg.Trading.SignalWorkers == 0 {
		cfg.Trading.SignalWorkers = 4
	}
	if cfg.Trading.SignalQueueSize == 0 {
		cfg.Trading.SignalQueueSize = 32
	}
	if cfg.Risk.MaxConsecutiveLosses == 0 {
		cfg.Risk.MaxConsecutiveLosses = 3
	}
	if cfg.Risk.MaxDailyLossKRW == 0 {
		cfg.Risk.MaxDailyLossKRW = 150000
	}
	if cfg.Risk.MaxExecFailures == 0 {
		cfg.Risk.MaxExecFailures = 5
	}
	if cfg.Risk.SlippagePct == 0 {
		cfg.Risk.SlippagePct = 1.0
	}
	if cfg.Risk.MaxSlippageStreak == 0 {
		cfg.Risk.MaxSlippageStreak = 3
	}
	if cfg.Risk.MaxAPIErrorsPerMinute == 0 {
		cfg.Risk.MaxAPIErrorsPerMinute = 10
	}
	if cfg.Risk.MaxDrawdownPct == 0 {
		cfg.Risk.MaxDrawdownPct = 10.0
	}
	if cfg.Patterns.FakeoutWindowMinutes == 0 {
		cfg.Patterns.FakeoutWindowMinutes = 10
	}
	if cfg.Patterns.FakeoutVolumeRatio == 0 {
		cfg.Patterns.FakeoutVolumeRatio = 3.0
	}
	if cfg.Patterns.OverboughtRSI == 0 {
		cfg.Patterns.OverboughtRSI = 70
	}
	if cfg.Patterns.BandTopPosition == 0 {
		cfg.Patterns.BandTopPosition = 0.85
	}
	if cfg.Patterns.WeakVolumeRatio == 0 {
		cfg.Patterns.WeakVolumeRatio = 1.5
	}
	if cfg.Patterns.LowConfluenceScore == 0 {
		cfg.Patterns.LowConfluenceScore = 50
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].Interval == "" {
			cfg.Strategies[i].Interval = "1m"
		}
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Exchange.AccessKey == "" {
		return fmt.Errorf("exchange.access_key is required")
	}
	if c.Exchange.SecretKey == "" {
		return fmt.Errorf("exchange.secret_key is required")
	}
	if c.Filter.Enabled && c.Filter.APIKey == "" {
		return fmt.Errorf("filter.api_key is required when filter is enabled")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if len(s.Markets) == 0 {
			return fmt.Errorf("strategy %q has no markets", s.Name)
		}
		if _, err := time.ParseDuration(s.Interval); err != nil {
			return fmt.Errorf("strategy %q: invalid interval %q: %w", s.Name, s.Interval, err)
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Trading.MonitorIntervalSeconds) * time.Second
}

func (c *Config) AbandonedRetryInterval() time.Duration {
	return time.Duration(c.Trading.AbandonedRetryMinutes) * time.Minute
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Trading.CooldownMinutes) * time.Minute
}

func (c *Config) MaxHolding() time.Duration {
	return time.Duration(c.Trading.MaxHoldingMinutes) * time.Minute
}

func (c *Config) CloseWaitTimeout() time.Duration {
	return time.Duration(c.Trading.CloseWaitSeconds) * time.Second
}

func (c *Config) CloseErrorTimeout() time.Duration {
	return time.Duration(c.Trading.CloseErrorMinutes) * time.Minute
}

func (c *Config) FilterTimeout() time.Duration {
	return time.Duration(c.Filter.TimeoutSeconds) * time.Second
}

func (s *StrategyConfig) ScanInterval() time.Duration {
	d, _ := time.ParseDuration(s.Interval)
	return d
}
