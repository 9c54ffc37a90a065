package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL    string        `mapstructure:"gamma_api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Categories     []string      `mapstructure:"categories"`
}

// ScanConfig holds scheduler configuration
type ScanConfig struct {
	PollIntervalMinutes    int           `mapstructure:"poll_interval_minutes"`
	MaxMarketsPerScan      int           `mapstructure:"max_markets_per_scan"`
	MarketsAnalyzedPerScan int           `mapstructure:"markets_analyzed_per_scan"`
	AlertCooldown          time.Duration `mapstructure:"alert_cooldown"`
	MaxPendingAlerts       int           `mapstructure:"max_pending_alerts"`
}

// PollInterval returns the poll interval as a duration.
func (s ScanConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

// StrategyConfig holds reconciliation and sizing thresholds
type StrategyConfig struct {
	MinMispricing       float64 `mapstructure:"min_mispricing"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
	DefaultPositionSize float64 `mapstructure:"default_position_size"`
	MaxPositionSize     float64 `mapstructure:"max_position_size"`
}

// OracleConfig holds both assessment services
type OracleConfig struct {
	Probability ProbabilityOracleConfig `mapstructure:"probability"`
	Risk        ServiceConfig           `mapstructure:"risk"`
}

// ServiceConfig describes one assessment endpoint
type ServiceConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// ProbabilityOracleConfig is a ServiceConfig that can be switched off
type ProbabilityOracleConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	ServiceConfig `mapstructure:",squash"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	StatePath  string `mapstructure:"state_path"`
	DBPath     string `mapstructure:"db_path"`
	MaxHistory int    `mapstructure:"max_history"`
}

// ServerConfig holds the control HTTP server configuration
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the POLYEDGE_ prefix with dots replaced by
// underscores, e.g. POLYEDGE_TELEGRAM_BOT_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("POLYEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key gets a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.categories", []string{})

	// Scan defaults
	v.SetDefault("scan.poll_interval_minutes", 5)
	v.SetDefault("scan.max_markets_per_scan", 50)
	v.SetDefault("scan.markets_analyzed_per_scan", 10)
	v.SetDefault("scan.alert_cooldown", "1h")
	v.SetDefault("scan.max_pending_alerts", 100)

	// Strategy defaults
	v.SetDefault("strategy.min_mispricing", 15.0)
	v.SetDefault("strategy.min_confidence", 70.0)
	v.SetDefault("strategy.default_position_size", 50.0)
	v.SetDefault("strategy.max_position_size", 100.0)

	// Oracle defaults
	for _, svc := range []string{"oracle.probability", "oracle.risk"} {
		v.SetDefault(svc+".url", "")
		v.SetDefault(svc+".api_key", "")
		v.SetDefault(svc+".timeout", "20s")
		v.SetDefault(svc+".requests_per_minute", 30)
		v.SetDefault(svc+".breaker_failures", 5)
		v.SetDefault(svc+".breaker_cooldown", "1m")
	}
	v.SetDefault("oracle.probability.enabled", true)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.state_path", "./data/scan-state.json")
	v.SetDefault("storage.db_path", "./data/history.db")
	v.SetDefault("storage.max_history", 5000)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", "127.0.0.1:9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}

	// Validate Scan config
	if c.Scan.PollIntervalMinutes < 1 {
		return fmt.Errorf("scan.poll_interval_minutes must be at least 1")
	}
	if c.Scan.MaxMarketsPerScan < 1 || c.Scan.MaxMarketsPerScan > 500 {
		return fmt.Errorf("scan.max_markets_per_scan must be between 1 and 500")
	}
	if c.Scan.MarketsAnalyzedPerScan < 1 {
		return fmt.Errorf("scan.markets_analyzed_per_scan must be at least 1")
	}
	if c.Scan.MarketsAnalyzedPerScan > c.Scan.MaxMarketsPerScan {
		return fmt.Errorf("scan.markets_analyzed_per_scan must not exceed scan.max_markets_per_scan")
	}
	if c.Scan.AlertCooldown < 0 {
		return fmt.Errorf("scan.alert_cooldown must not be negative")
	}
	if c.Scan.MaxPendingAlerts < 1 {
		return fmt.Errorf("scan.max_pending_alerts must be at least 1")
	}

	// Validate Strategy config
	if c.Strategy.MinMispricing < 0 || c.Strategy.MinMispricing > 100 {
		return fmt.Errorf("strategy.min_mispricing must be between 0 and 100")
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 100 {
		return fmt.Errorf("strategy.min_confidence must be between 0 and 100")
	}
	if c.Strategy.DefaultPositionSize <= 0 {
		return fmt.Errorf("strategy.default_position_size must be positive")
	}
	if c.Strategy.MaxPositionSize < c.Strategy.DefaultPositionSize {
		return fmt.Errorf("strategy.max_position_size must be at least strategy.default_position_size")
	}

	// Validate Oracle config
	if c.Oracle.Probability.Enabled {
		if err := c.Oracle.Probability.validate("oracle.probability"); err != nil {
			return err
		}
	}
	if err := c.Oracle.Risk.validate("oracle.risk"); err != nil {
		return err
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required")
	}
	if c.Storage.MaxHistory < 1 {
		return fmt.Errorf("storage.max_history must be at least 1")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (s ServiceConfig) validate(prefix string) error {
	if s.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	if s.RequestsPerMinute < 0 {
		return fmt.Errorf("%s.requests_per_minute must not be negative", prefix)
	}
	if s.BreakerFailures < 1 {
		return fmt.Errorf("%s.breaker_failures must be at least 1", prefix)
	}
	return nil
}
