// Package config handles application configuration loading from a JSON file
// and environment variables, with validation and typed accessors.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mwojcik/candlesync/internal/models"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	// Provider is the active exchange adapter ("bybit" or "binance").
	Provider string `json:"provider" env:"PROVIDER"`

	// Symbols are the trading pairs to collect, in provider notation.
	Symbols []string `json:"symbols" env:"SYMBOLS"`

	// Interval is the candle interval to collect ("1m", "1h", "1d", ...).
	Interval string `json:"interval" env:"INTERVAL"`

	// CollectionInterval is how often a full cycle runs, as a duration string.
	CollectionInterval string `json:"collection_interval" env:"COLLECTION_INTERVAL"`

	// LookbackDays bounds the initial backfill when no watermark exists.
	LookbackDays int `json:"lookback_days" env:"LOOKBACK_DAYS"`

	// RetentionDays prunes candles older than this many days. Zero disables
	// the sweep.
	RetentionDays int `json:"retention_days" env:"RETENTION_DAYS"`

	// MaxConnectionRetries bounds the connectivity wait before a cycle.
	MaxConnectionRetries int `json:"max_connection_retries" env:"MAX_CONNECTION_RETRIES"`

	// ConnectionRetryDelay is the pause between connectivity probes.
	ConnectionRetryDelay string `json:"connection_retry_delay" env:"CONNECTION_RETRY_DELAY"`

	Providers map[string]ProviderConfig `json:"providers"`
	Storage   StorageConfig             `json:"storage"`
	Logging   LoggingConfig             `json:"logging"`
}

// ProviderConfig configures one exchange adapter.
type ProviderConfig struct {
	BaseURL string `json:"base_url" env:"BASE_URL"`
	// RateLimit is the minimum spacing between requests, as a duration string.
	RateLimit string `json:"rate_limit" env:"RATE_LIMIT"`
	// Timeout is the per-request HTTP timeout, as a duration string.
	Timeout string `json:"timeout" env:"HTTP_TIMEOUT"`
	// MaxRetries is the total attempt budget per request.
	MaxRetries int `json:"max_retries" env:"MAX_RETRIES"`
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Type string `json:"type" env:"STORAGE_TYPE"` // "duckdb" or "memory"
	Path string `json:"path" env:"STORAGE_PATH"` // database file for duckdb
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"` // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"` // MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"` // days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// DefaultConfig returns a configuration with working defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Provider:             "bybit",
		Symbols:              []string{"BTCUSDT", "ETHUSDT"},
		Interval:             "1h",
		CollectionInterval:   "1h",
		LookbackDays:         30,
		RetentionDays:        0,
		MaxConnectionRetries: 5,
		ConnectionRetryDelay: "30s",
		Providers: map[string]ProviderConfig{
			"bybit": {
				BaseURL:    "https://api.bybit.com",
				RateLimit:  "100ms",
				Timeout:    "30s",
				MaxRetries: 3,
			},
			"binance": {
				BaseURL:    "https://api.binance.com",
				RateLimit:  "200ms",
				Timeout:    "30s",
				MaxRetries: 3,
			},
		},
		Storage: StorageConfig{
			Type: "duckdb",
			Path: "./data/candles.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Load builds the configuration with priority order:
// 1. Environment variables (highest)
// 2. Configuration file at path, when it exists
// 3. Defaults (lowest)
func Load(path string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("configuration loaded",
		"config_path", path,
		"provider", cfg.Provider,
		"symbols", len(cfg.Symbols),
		"interval", cfg.Interval,
		"storage_type", cfg.Storage.Type)

	return cfg, nil
}

func loadFromFile(cfg *AppConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *AppConfig) {
	if val := os.Getenv("PROVIDER"); val != "" {
		cfg.Provider = val
	}
	if val := os.Getenv("SYMBOLS"); val != "" {
		cfg.Symbols = strings.Split(val, ",")
	}
	if val := os.Getenv("INTERVAL"); val != "" {
		cfg.Interval = val
	}
	if val := os.Getenv("COLLECTION_INTERVAL"); val != "" {
		cfg.CollectionInterval = val
	}
	if val := os.Getenv("LOOKBACK_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			cfg.LookbackDays = days
		}
	}
	if val := os.Getenv("RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			cfg.RetentionDays = days
		}
	}
	if val := os.Getenv("MAX_CONNECTION_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			cfg.MaxConnectionRetries = retries
		}
	}
	if val := os.Getenv("CONNECTION_RETRY_DELAY"); val != "" {
		cfg.ConnectionRetryDelay = val
	}

	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		cfg.Storage.Type = val
	}
	if val := os.Getenv("STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		cfg.Logging.FilePath = val
	}
}

// Validate checks the configuration for consistency and required fields.
func (c *AppConfig) Validate() error {
	var errs []string

	if c.Provider == "" {
		errs = append(errs, "provider is required")
	} else if _, ok := c.Providers[c.Provider]; !ok {
		errs = append(errs, fmt.Sprintf("providers.%s is not configured", c.Provider))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols must not be empty")
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "symbols must not contain blank entries")
			break
		}
	}

	if _, err := models.IntervalDuration(c.Interval); err != nil {
		errs = append(errs, fmt.Sprintf("interval is not valid: %v", err))
	}
	if _, err := time.ParseDuration(c.CollectionInterval); err != nil {
		errs = append(errs, fmt.Sprintf("collection_interval is not a valid duration: %v", err))
	}
	if _, err := time.ParseDuration(c.ConnectionRetryDelay); err != nil {
		errs = append(errs, fmt.Sprintf("connection_retry_delay is not a valid duration: %v", err))
	}

	if c.LookbackDays <= 0 {
		errs = append(errs, "lookback_days must be greater than 0")
	}
	if c.RetentionDays < 0 {
		errs = append(errs, "retention_days must not be negative")
	}
	if c.MaxConnectionRetries <= 0 {
		errs = append(errs, "max_connection_retries must be greater than 0")
	}

	for name, p := range c.Providers {
		if p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.base_url is required", name))
		}
		if _, err := time.ParseDuration(p.RateLimit); err != nil {
			errs = append(errs, fmt.Sprintf("providers.%s.rate_limit is not a valid duration: %v", name, err))
		}
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout is not a valid duration: %v", name, err))
		}
		if p.MaxRetries <= 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.max_retries must be greater than 0", name))
		}
	}

	switch c.Storage.Type {
	case "duckdb":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for duckdb storage")
		}
	case "memory":
	case "":
		errs = append(errs, "storage.type is required")
	default:
		errs = append(errs, fmt.Sprintf("storage.type %q is not supported", c.Storage.Type))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errs = append(errs, "logging.file_path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ActiveProvider returns the configuration block for the selected provider.
func (c *AppConfig) ActiveProvider() ProviderConfig {
	return c.Providers[c.Provider]
}

// CollectionIntervalDuration returns CollectionInterval parsed as a duration.
func (c *AppConfig) CollectionIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.CollectionInterval)
	return d
}

// ConnectionRetryDelayDuration returns ConnectionRetryDelay parsed as a
// duration.
func (c *AppConfig) ConnectionRetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.ConnectionRetryDelay)
	return d
}

// RateLimitDuration returns the provider rate limit parsed as a duration.
func (p ProviderConfig) RateLimitDuration() time.Duration {
	d, _ := time.ParseDuration(p.RateLimit)
	return d
}

// TimeoutDuration returns the provider timeout parsed as a duration.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

// String returns the configuration as indented JSON.
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
