// Package model defines the data structures for Velora's configuration,
// chat lifecycle state, and persistent records.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Project Project       `yaml:"project"`
	Store   StoreConfig   `yaml:"store"`
	Pricing PricingConfig `yaml:"pricing"`
	Queue   QueueConfig   `yaml:"queue"`
	Notify  NotifyConfig  `yaml:"notify"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type Project struct {
	Name string `yaml:"name"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// PricingConfig drives the credit cost of a message. Peak and off-peak
// windows are half-open hour ranges [start, end) in the reference
// timezone; the peak window is expected to wrap midnight.
type PricingConfig struct {
	BaseCost           int     `yaml:"base_cost"`
	FreeMessages       int     `yaml:"free_messages"`
	PeakStartHour      int     `yaml:"peak_start_hour"`
	PeakEndHour        int     `yaml:"peak_end_hour"`
	PeakMultiplier     float64 `yaml:"peak_multiplier"`
	OffPeakStartHour   int     `yaml:"off_peak_start_hour"`
	OffPeakEndHour     int     `yaml:"off_peak_end_hour"`
	OffPeakMultiplier  float64 `yaml:"off_peak_multiplier"`
	FeaturedMultiplier float64 `yaml:"featured_multiplier"`
	Timezone           string  `yaml:"timezone"`
}

type QueueConfig struct {
	BatchSize        int `yaml:"batch_size"`
	ScanIntervalSec  int `yaml:"scan_interval_sec"`
	MaxAttempts      int `yaml:"max_attempts"`
	IdleThresholdMin int `yaml:"idle_threshold_min"`
	CommitTimeoutSec int `yaml:"commit_timeout_sec"`
}

type NotifyConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads and parses a YAML config file, applying defaults for
// any omitted fields.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "velora.db"
	}
	if c.Store.PoolSize <= 0 {
		c.Store.PoolSize = 4
	}
	if c.Pricing.BaseCost <= 0 {
		c.Pricing.BaseCost = 1
	}
	if c.Pricing.FreeMessages <= 0 {
		c.Pricing.FreeMessages = 3
	}
	if c.Pricing.PeakMultiplier <= 0 {
		c.Pricing.PeakStartHour = 20
		c.Pricing.PeakEndHour = 1
		c.Pricing.PeakMultiplier = 1.2
	}
	if c.Pricing.OffPeakMultiplier <= 0 {
		c.Pricing.OffPeakStartHour = 4
		c.Pricing.OffPeakEndHour = 8
		c.Pricing.OffPeakMultiplier = 0.8
	}
	if c.Pricing.FeaturedMultiplier <= 0 {
		c.Pricing.FeaturedMultiplier = 1.25
	}
	if c.Pricing.Timezone == "" {
		c.Pricing.Timezone = "UTC"
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 20
	}
	if c.Queue.ScanIntervalSec <= 0 {
		c.Queue.ScanIntervalSec = 10
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.IdleThresholdMin <= 0 {
		c.Queue.IdleThresholdMin = 15
	}
	if c.Queue.CommitTimeoutSec <= 0 {
		c.Queue.CommitTimeoutSec = 5
	}
	if c.Notify.Exchange == "" {
		c.Notify.Exchange = "velora.events"
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
