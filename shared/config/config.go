package config

import (
	"fmt"
	"os"
	"time"

	"channel-shuffler/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	YouTube    YouTubeConfig                   `yaml:"youtube"`
	Valkey     ValkeyConfig                    `yaml:"valkey"`
	Storage    StorageConfig                   `yaml:"storage"`
	Quota      QuotaConfig                     `yaml:"quota"`
	Shuffle    ShuffleConfig                   `yaml:"shuffle"`
	Channels   map[string]models.ShuffleConfig `yaml:"channels"`
	Logging    LoggingConfig                   `yaml:"logging"`
	Monitoring MonitoringConfig                `yaml:"monitoring"`
	Schedule   ScheduleConfig                  `yaml:"schedule"`
}

type YouTubeConfig struct {
	APIKey         string        `yaml:"api_key" env:"YOUTUBE_API_KEY"`
	Endpoint       string        `yaml:"endpoint"`
	OEmbedURL      string        `yaml:"oembed_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSec float64       `yaml:"requests_per_second"`
}

type ValkeyConfig struct {
	Addr     string `yaml:"addr" env:"VALKEY_ADDR"`
	Password string `yaml:"password" env:"VALKEY_PASSWORD"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type QuotaConfig struct {
	DailyAllowance   int           `yaml:"daily_allowance"`
	Overdraft        int           `yaml:"overdraft"`
	PoolRefreshEvery time.Duration `yaml:"pool_refresh_every"`
	ResetTimezone    string        `yaml:"reset_timezone"`
	ObfuscationShift int           `yaml:"obfuscation_shift"`
}

type ShuffleConfig struct {
	SharingEnabled  bool              `yaml:"sharing_enabled"`
	StalenessWindow time.Duration     `yaml:"staleness_window"`
	DefaultCount    int               `yaml:"default_count"`
	Shorts          models.ShortsMode `yaml:"shorts"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

type ScheduleConfig struct {
	QuotaReset  string `yaml:"quota_reset"`
	PoolRefresh string `yaml:"pool_refresh"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	case os.IsNotExist(err) && os.Getenv("CONFIG_FILE") == "":
		// Defaults and environment are enough to run without a file.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.YouTube.APIKey == "" {
		c.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if c.Valkey.Addr == "" {
		c.Valkey.Addr = os.Getenv("VALKEY_ADDR")
	}
	if c.Valkey.Password == "" {
		c.Valkey.Password = os.Getenv("VALKEY_PASSWORD")
	}
	if dir := os.Getenv("SHUFFLER_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
}

func (c *Config) applyDefaults() {
	if c.YouTube.Endpoint == "" {
		c.YouTube.Endpoint = "https://youtube.googleapis.com/"
	}
	if c.YouTube.OEmbedURL == "" {
		c.YouTube.OEmbedURL = "https://www.youtube.com/oembed"
	}
	if c.YouTube.RequestTimeout == 0 {
		c.YouTube.RequestTimeout = 15 * time.Second
	}
	if c.YouTube.RequestsPerSec == 0 {
		c.YouTube.RequestsPerSec = 10
	}
	if c.Valkey.Addr == "" {
		c.Valkey.Addr = "localhost:6379"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Quota.DailyAllowance == 0 {
		c.Quota.DailyAllowance = 200
	}
	if c.Quota.Overdraft == 0 {
		c.Quota.Overdraft = 200
	}
	if c.Quota.PoolRefreshEvery == 0 {
		c.Quota.PoolRefreshEvery = 7 * 24 * time.Hour
	}
	if c.Quota.ObfuscationShift == 0 {
		c.Quota.ObfuscationShift = 17
	}
	if c.Shuffle.StalenessWindow == 0 {
		c.Shuffle.StalenessWindow = 48 * time.Hour
	}
	if c.Shuffle.DefaultCount == 0 {
		c.Shuffle.DefaultCount = 1
	}
	if c.Shuffle.Shorts == "" {
		c.Shuffle.Shorts = models.ShortsNone
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 20
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Schedule.QuotaReset == "" {
		c.Schedule.QuotaReset = "0 0 0 * * *" // Daily at midnight
	}
	if c.Schedule.PoolRefresh == "" {
		c.Schedule.PoolRefresh = "0 30 3 * * 1" // Mondays at 03:30
	}
}

func (c *Config) validate() error {
	if c.Quota.DailyAllowance < 0 {
		return fmt.Errorf("quota.daily_allowance must not be negative")
	}
	if c.Quota.Overdraft < 0 || c.Quota.Overdraft > 200 {
		return fmt.Errorf("quota.overdraft must be between 0 and 200")
	}
	if c.Quota.ResetTimezone != "" {
		if _, err := time.LoadLocation(c.Quota.ResetTimezone); err != nil {
			return fmt.Errorf("quota.reset_timezone %q is invalid: %w", c.Quota.ResetTimezone, err)
		}
	}
	if _, err := models.ParseShortsMode(string(c.Shuffle.Shorts)); err != nil {
		return fmt.Errorf("shuffle.shorts: %w", err)
	}
	if c.Shuffle.DefaultCount < 1 {
		return fmt.Errorf("shuffle.default_count must be at least 1")
	}
	return nil
}

// ResetLocation is the timezone whose midnight restores the daily budget.
func (c *Config) ResetLocation() *time.Location {
	if c.Quota.ResetTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Quota.ResetTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ChannelFilter returns the stored filter for a channel, defaulting to all.
func (c *Config) ChannelFilter(channelID string) models.ShuffleConfig {
	if f, ok := c.Channels[channelID]; ok && f.ActiveFilter != "" {
		return f
	}
	return models.ShuffleConfig{ActiveFilter: models.FilterAll}
}
