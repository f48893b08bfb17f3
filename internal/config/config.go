package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Market     MarketConfig     `yaml:"market"`
	Screening  ScreeningConfig  `yaml:"screening"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Trading    TradingConfig    `yaml:"trading"`
	Data       DataConfig       `yaml:"data"`
	Database   DatabaseConfig   `yaml:"database"`
	Web        WebConfig        `yaml:"web"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MarketConfig holds trading-venue settings
type MarketConfig struct {
	Timezone          string `yaml:"timezone" validate:"required"`
	OpenTime          string `yaml:"open_time"`           // HH:MM
	CloseTime         string `yaml:"close_time"`          // HH:MM
	SignalWindowStart string `yaml:"signal_window_start"` // HH:MM
	SignalWindowEnd   string `yaml:"signal_window_end"`   // HH:MM
}

// ScreeningConfig holds momentum pre-filter settings
type ScreeningConfig struct {
	SMAPeriod    int     `yaml:"sma_period" validate:"min=1"`
	Lookback3M   int     `yaml:"momentum_lookback_3m" validate:"min=1"`
	Lookback1Y   int     `yaml:"momentum_lookback_1y" validate:"min=1"`
	MinGapPct    float64 `yaml:"min_gap_pct"` // price vs yesterday close threshold for signals
	HistoryDays  int     `yaml:"history_days"`
}

// MonitoringConfig holds live monitor settings
type MonitoringConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	SnapshotMaxAge int           `yaml:"snapshot_max_age_days"` // cleanup horizon
}

// TradingConfig holds exit-rule settings for simulation and paper trading
type TradingConfig struct {
	StopLossPct         float64 `yaml:"stop_loss_pct" validate:"gt=0,lt=100"`
	TrailingStop        bool    `yaml:"trailing_stop"`
	TrailPct            float64 `yaml:"trail_pct" validate:"gte=0,lt=100"`
	BreakevenTriggerPct float64 `yaml:"breakeven_trigger_pct"`
	TrailTriggerPct     float64 `yaml:"trail_trigger_pct"`
	EarningsSurprise    bool    `yaml:"earnings_surprise_filter"`
}

// DataConfig holds market-data provider settings
type DataConfig struct {
	RateLimit    int    `yaml:"rate_limit" validate:"min=1"` // requests per minute
	CalendarPath string `yaml:"earnings_calendar_path"`
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// WebConfig holds web server settings
type WebConfig struct {
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	AuthToken string `yaml:"auth_token"` // shared secret for manual-override login
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Market: MarketConfig{
			Timezone:          "Europe/Stockholm",
			OpenTime:          "09:00",
			CloseTime:         "17:30",
			SignalWindowStart: "09:20",
			SignalWindowEnd:   "10:00",
		},
		Screening: ScreeningConfig{
			SMAPeriod:   200,
			Lookback3M:  63,
			Lookback1Y:  252,
			MinGapPct:   2.0,
			HistoryDays: 400,
		},
		Monitoring: MonitoringConfig{
			PollInterval:   60 * time.Second,
			StaleAfter:     2 * time.Minute,
			SnapshotMaxAge: 7,
		},
		Trading: TradingConfig{
			StopLossPct:         2.5,
			TrailingStop:        false,
			TrailPct:            2.0,
			BreakevenTriggerPct: 2.0,
			TrailTriggerPct:     5.0,
			EarningsSurprise:    false,
		},
		Data: DataConfig{
			RateLimit:    30,
			CalendarPath: "data/earnings_calendar.csv",
		},
		Database: DatabaseConfig{
			Path: "data/svea.db",
		},
		Web: WebConfig{
			Port:      8080,
			AuthToken: os.Getenv("SVEA_WEB_SECRET"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if file doesn't exist
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Override with environment variables if set
	if p := os.Getenv("SVEA_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}
	if s := os.Getenv("SVEA_WEB_SECRET"); s != "" {
		cfg.Web.AuthToken = s
	}
	if p := os.Getenv("SVEA_WEB_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Web.Port = port
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, f := range []string{c.Market.OpenTime, c.Market.CloseTime, c.Market.SignalWindowStart, c.Market.SignalWindowEnd} {
		if _, err := time.Parse("15:04", f); err != nil {
			return fmt.Errorf("invalid clock time %q: %w", f, err)
		}
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Market.Timezone, err)
	}
	if c.Monitoring.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	return nil
}
