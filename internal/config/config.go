// Package config loads and validates the autopricer configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	KeyPrice  KeyPriceConfig  `mapstructure:"key_price"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StreamConfig holds the inbound classifieds websocket configuration.
type StreamConfig struct {
	URL                  string             `mapstructure:"url"`
	ReconnectDelayBase   time.Duration      `mapstructure:"reconnect_delay_base"`
	ReconnectDelayMax    time.Duration      `mapstructure:"reconnect_delay_max"`
	BatchInterval        time.Duration      `mapstructure:"batch_interval"`
	EventLogPath         string             `mapstructure:"event_log_path"`
	ExcludedSteamIDs     []string           `mapstructure:"excluded_steam_ids"`
	TrustedSteamIDs      []string           `mapstructure:"trusted_steam_ids"`
	ExcludedDescriptions []string           `mapstructure:"excluded_descriptions"`
	BlockedAttributes    map[string]float64 `mapstructure:"blocked_attributes"`
}

// BaselineConfig holds the external pricelist feed configuration.
type BaselineConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	CachePath      string        `mapstructure:"cache_path"`
}

// PricingConfig holds derivation and finalization behavior.
type PricingConfig struct {
	PriceAllItems         bool    `mapstructure:"price_all_items"`
	FallbackToBaseline    bool    `mapstructure:"fallback_to_baseline"`
	MaxBuyDifference      float64 `mapstructure:"max_buy_difference"`
	MaxSellDifference     float64 `mapstructure:"max_sell_difference"`
	MinSellMargin         float64 `mapstructure:"min_sell_margin"`
	MaxBuyIncrease        float64 `mapstructure:"max_buy_increase"`
	MaxSellDecrease       float64 `mapstructure:"max_sell_decrease"`
	SellHistoryProtection bool    `mapstructure:"sell_history_protection"`
	CycleConcurrency      int     `mapstructure:"cycle_concurrency"`
}

// KeyPriceConfig holds the key price stabilizer thresholds.
type KeyPriceConfig struct {
	ChangeThreshold     float64       `mapstructure:"change_threshold"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold"`
	MinSpread           float64       `mapstructure:"min_spread"`
	SanityBand          float64       `mapstructure:"sanity_band"`
	Retention           time.Duration `mapstructure:"retention"`
}

// SchedulerConfig holds the cadence of every periodic task.
type SchedulerConfig struct {
	BaselineRefresh time.Duration `mapstructure:"baseline_refresh"`
	PricingCycle    time.Duration `mapstructure:"pricing_cycle"`
	RetentionSweep  time.Duration `mapstructure:"retention_sweep"`
	MovingAverage   time.Duration `mapstructure:"moving_average"`
	KeyStability    time.Duration `mapstructure:"key_stability"`
	KeyCleanup      time.Duration `mapstructure:"key_cleanup"`
	StaleWatch      time.Duration `mapstructure:"stale_watch"`
	StaleAge        time.Duration `mapstructure:"stale_age"`
}

// DispatchConfig holds the outbound publish configuration.
type DispatchConfig struct {
	QueueInterval time.Duration `mapstructure:"queue_interval"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	Enabled       bool          `mapstructure:"enabled"`
}

// StorageConfig holds file and database paths.
type StorageConfig struct {
	DBPath        string `mapstructure:"db_path"`
	PricelistPath string `mapstructure:"pricelist_path"`
	ItemListPath  string `mapstructure:"item_list_path"`
	SchemaPath    string `mapstructure:"schema_path"`
}

// TelegramConfig holds operational alert configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("AUTOPRICER")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("stream.url", "wss://ws.backpack.tf/events/")
	v.SetDefault("stream.reconnect_delay_base", "1s")
	v.SetDefault("stream.reconnect_delay_max", "60s")
	v.SetDefault("stream.batch_interval", "10s")
	v.SetDefault("stream.event_log_path", "./logs/websocket.log")

	v.SetDefault("baseline.url", "https://autobot.tf/json/pricelist-array")
	v.SetDefault("baseline.timeout", "30s")
	v.SetDefault("baseline.max_retries", 3)
	v.SetDefault("baseline.retry_delay_base", "1s")
	v.SetDefault("baseline.cache_path", "./data/baseline-cache.json")

	v.SetDefault("pricing.price_all_items", false)
	v.SetDefault("pricing.fallback_to_baseline", false)
	v.SetDefault("pricing.max_buy_difference", 0.10)
	v.SetDefault("pricing.max_sell_difference", 0.10)
	v.SetDefault("pricing.min_sell_margin", 0.11)
	v.SetDefault("pricing.max_buy_increase", 0.10)
	v.SetDefault("pricing.max_sell_decrease", 0.10)
	v.SetDefault("pricing.sell_history_protection", true)
	v.SetDefault("pricing.cycle_concurrency", 15)

	v.SetDefault("key_price.change_threshold", 0.33)
	v.SetDefault("key_price.volatility_threshold", 0.66)
	v.SetDefault("key_price.min_spread", 0.33)
	v.SetDefault("key_price.sanity_band", 0.20)
	v.SetDefault("key_price.retention", "720h") // 30 days

	v.SetDefault("scheduler.baseline_refresh", "30m")
	v.SetDefault("scheduler.pricing_cycle", "15m")
	v.SetDefault("scheduler.retention_sweep", "15m")
	v.SetDefault("scheduler.moving_average", "15m")
	v.SetDefault("scheduler.key_stability", "30m")
	v.SetDefault("scheduler.key_cleanup", "30m")
	v.SetDefault("scheduler.stale_watch", "5m")
	v.SetDefault("scheduler.stale_age", "2h")

	v.SetDefault("dispatch.queue_interval", "20ms")
	v.SetDefault("dispatch.listen_addr", ":8090")
	v.SetDefault("dispatch.enabled", true)

	v.SetDefault("storage.db_path", "./data/autopricer.db")
	v.SetDefault("storage.pricelist_path", "./files/pricelist.json")
	v.SetDefault("storage.item_list_path", "./files/item_list.json")
	v.SetDefault("storage.schema_path", "./files/schema.json")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if c.Stream.BatchInterval < time.Second {
		return fmt.Errorf("stream.batch_interval must be at least 1 second")
	}
	if c.Stream.ReconnectDelayBase <= 0 || c.Stream.ReconnectDelayMax < c.Stream.ReconnectDelayBase {
		return fmt.Errorf("stream reconnect delays must be positive and max >= base")
	}

	if c.Baseline.URL == "" {
		return fmt.Errorf("baseline.url is required")
	}
	if c.Baseline.MaxRetries < 1 {
		return fmt.Errorf("baseline.max_retries must be at least 1")
	}

	if c.Pricing.MaxBuyDifference <= 0 || c.Pricing.MaxBuyDifference > 1 {
		return fmt.Errorf("pricing.max_buy_difference must be in (0, 1]")
	}
	if c.Pricing.MaxSellDifference <= 0 || c.Pricing.MaxSellDifference > 1 {
		return fmt.Errorf("pricing.max_sell_difference must be in (0, 1]")
	}
	if c.Pricing.MinSellMargin < 0 {
		return fmt.Errorf("pricing.min_sell_margin must not be negative")
	}
	if c.Pricing.MaxBuyIncrease <= 0 || c.Pricing.MaxSellDecrease <= 0 {
		return fmt.Errorf("pricing swing limits must be positive")
	}
	if c.Pricing.CycleConcurrency < 1 {
		return fmt.Errorf("pricing.cycle_concurrency must be at least 1")
	}

	if c.KeyPrice.ChangeThreshold <= 0 {
		return fmt.Errorf("key_price.change_threshold must be positive")
	}
	if c.KeyPrice.VolatilityThreshold <= 0 {
		return fmt.Errorf("key_price.volatility_threshold must be positive")
	}
	if c.KeyPrice.MinSpread <= 0 {
		return fmt.Errorf("key_price.min_spread must be positive")
	}
	if c.KeyPrice.SanityBand <= 0 || c.KeyPrice.SanityBand >= 1 {
		return fmt.Errorf("key_price.sanity_band must be in (0, 1)")
	}

	if c.Scheduler.PricingCycle < time.Minute {
		return fmt.Errorf("scheduler.pricing_cycle must be at least 1 minute")
	}
	if c.Scheduler.RetentionSweep < time.Minute {
		return fmt.Errorf("scheduler.retention_sweep must be at least 1 minute")
	}

	if c.Dispatch.QueueInterval <= 0 {
		return fmt.Errorf("dispatch.queue_interval must be positive")
	}
	if c.Dispatch.Enabled && c.Dispatch.ListenAddr == "" {
		return fmt.Errorf("dispatch.listen_addr is required when dispatch is enabled")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.PricelistPath == "" {
		return fmt.Errorf("storage.pricelist_path is required")
	}
	if c.Storage.ItemListPath == "" {
		return fmt.Errorf("storage.item_list_path is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

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
