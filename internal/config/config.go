// Package config loads and persists crawler configuration from
// <workspace>/.wkb/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete crawler configuration
type Config struct {
	WorkspacePath   string `json:"workspacePath" mapstructure:"workspacePath"`
	ApplicationName string `json:"applicationName,omitempty" mapstructure:"applicationName"`
	Depth           string `json:"depth" mapstructure:"depth"` // "shallow" or "deep"

	Cache   CacheConfig   `json:"cache" mapstructure:"cache"`
	Watch   WatchConfig   `json:"watch" mapstructure:"watch"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// CacheConfig contains fingerprint cache configuration
type CacheConfig struct {
	MaxSizeMB int `json:"maxSizeMb" mapstructure:"maxSizeMb"`
	TTLDays   int `json:"ttlDays" mapstructure:"ttlDays"`
}

// WatchConfig contains activity watcher configuration
type WatchConfig struct {
	Enabled                bool `json:"enabled" mapstructure:"enabled"`
	PromotionFileThreshold int  `json:"promotionFileThreshold" mapstructure:"promotionFileThreshold"`
	ImmediateTimeoutMin    int  `json:"immediateTimeoutMinutes" mapstructure:"immediateTimeoutMinutes"`
	QueuedTimeoutMin       int  `json:"queuedTimeoutMinutes" mapstructure:"queuedTimeoutMinutes"`
	DebounceMs             int  `json:"debounceMs" mapstructure:"debounceMs"`
	MonitorIntervalSec     int  `json:"monitorIntervalSeconds" mapstructure:"monitorIntervalSeconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkspacePath: ".",
		Depth:         "shallow",
		Cache: CacheConfig{
			MaxSizeMB: 500,
			TTLDays:   7,
		},
		Watch: WatchConfig{
			Enabled:                true,
			PromotionFileThreshold: 3,
			ImmediateTimeoutMin:    30,
			QueuedTimeoutMin:       60,
			DebounceMs:             2000,
			MonitorIntervalSec:     60,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <workspaceRoot>/.wkb/config.json.
// A missing config file is not an error; defaults are returned.
func LoadConfig(workspaceRoot string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("workspacePath", workspaceRoot)
	v.SetDefault("depth", defaults.Depth)
	v.SetDefault("cache.maxSizeMb", defaults.Cache.MaxSizeMB)
	v.SetDefault("cache.ttlDays", defaults.Cache.TTLDays)
	v.SetDefault("watch.enabled", defaults.Watch.Enabled)
	v.SetDefault("watch.promotionFileThreshold", defaults.Watch.PromotionFileThreshold)
	v.SetDefault("watch.immediateTimeoutMinutes", defaults.Watch.ImmediateTimeoutMin)
	v.SetDefault("watch.queuedTimeoutMinutes", defaults.Watch.QueuedTimeoutMin)
	v.SetDefault("watch.debounceMs", defaults.Watch.DebounceMs)
	v.SetDefault("watch.monitorIntervalSeconds", defaults.Watch.MonitorIntervalSec)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.level", defaults.Logging.Level)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(workspaceRoot, ".wkb"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.WorkspacePath == "" {
		cfg.WorkspacePath = workspaceRoot
	}

	return &cfg, nil
}

// Save writes the configuration to <workspaceRoot>/.wkb/config.json
func (c *Config) Save(workspaceRoot string) error {
	dir := filepath.Join(workspaceRoot, ".wkb")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Depth != "shallow" && c.Depth != "deep" {
		return &ConfigError{Field: "depth", Message: "must be \"shallow\" or \"deep\""}
	}
	if c.Cache.MaxSizeMB <= 0 {
		return &ConfigError{Field: "cache.maxSizeMb", Message: "must be positive"}
	}
	if c.Cache.TTLDays <= 0 {
		return &ConfigError{Field: "cache.ttlDays", Message: "must be positive"}
	}
	if c.Watch.PromotionFileThreshold <= 0 {
		return &ConfigError{Field: "watch.promotionFileThreshold", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
