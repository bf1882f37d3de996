// Package config loads coordination settings from JSON and supports hot
// reload of the tunable subset through a filesystem watcher.
package config

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/resource"
)

// OrderOverride adjusts the acquisition rank of one resource type.
type OrderOverride struct {
	Type        string `json:"type"`        // hardware|memory|performance|communication|platform|custom
	Rank        uint32 `json:"rank"`        // Lower acquires first
	Description string `json:"description"` // Human-readable description
}

// Config is the coordination layer configuration.
type Config struct {
	QueueCapacity    uint64          `json:"queue_capacity"`     // Messenger queue bound
	PollIntervalUs   int             `json:"poll_interval_us"`   // Worker idle sleep, microseconds
	CleanupInterval  string          `json:"cleanup_interval"`   // Expired-item sweep period (Go duration)
	ResourceOrders   []OrderOverride `json:"resource_orders"`    // Acquisition order overrides
	LogLevel         string          `json:"log_level"`          // debug|info|warn|error
	StatsLogInterval string          `json:"stats_log_interval"` // Periodic stats log period, "" disables
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		QueueCapacity:   1024,
		PollIntervalUs:  100,
		CleanupInterval: "1s",
		LogLevel:        "info",
	}
}

// Load reads and validates a JSON config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, halerr.Newf(halerr.CategoryConfiguration, "CONFIG_READ", "read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates JSON config bytes. Missing fields fall back
// to defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, halerr.Newf(halerr.CategoryValidation, "CONFIG_PARSE", "parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and referenced names.
func (c Config) Validate() error {
	if c.QueueCapacity < 2 {
		return halerr.New(halerr.CategoryValidation, "BAD_CAPACITY", "queue_capacity must be at least 2")
	}
	if c.PollIntervalUs <= 0 {
		return halerr.New(halerr.CategoryValidation, "BAD_POLL", "poll_interval_us must be positive")
	}
	if _, err := c.CleanupPeriod(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return halerr.Newf(halerr.CategoryValidation, "BAD_LOG_LEVEL", "log_level: %v", err)
		}
	}
	if c.StatsLogInterval != "" {
		if _, err := time.ParseDuration(c.StatsLogInterval); err != nil {
			return halerr.Newf(halerr.CategoryValidation, "BAD_DURATION", "stats_log_interval: %v", err)
		}
	}
	for _, o := range c.ResourceOrders {
		if _, err := ParseType(o.Type); err != nil {
			return err
		}
	}
	return nil
}

// CleanupPeriod parses the cleanup interval.
func (c Config) CleanupPeriod() (time.Duration, error) {
	if c.CleanupInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return 0, halerr.Newf(halerr.CategoryValidation, "BAD_DURATION", "cleanup_interval: %v", err)
	}
	if d <= 0 {
		return 0, halerr.New(halerr.CategoryValidation, "BAD_DURATION", "cleanup_interval must be positive")
	}
	return d, nil
}

// PollInterval returns the worker idle sleep as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalUs) * time.Microsecond
}

// ParseType maps a config type name to a resource type.
func ParseType(name string) (resource.Type, error) {
	switch name {
	case "hardware":
		return resource.Hardware, nil
	case "memory":
		return resource.Memory, nil
	case "performance":
		return resource.Performance, nil
	case "communication":
		return resource.Communication, nil
	case "platform":
		return resource.Platform, nil
	case "custom":
		return resource.Custom, nil
	default:
		return 0, halerr.Newf(halerr.CategoryValidation, "BAD_TYPE", "unknown resource type %q", name)
	}
}
