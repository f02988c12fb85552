package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines tracking subsystem configuration.
type Config struct {
	HistoryWindowHours int    `yaml:"history_window_hours"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	RetentionDays      int    `yaml:"retention_days"`
	RefreshInterval    string `yaml:"refresh_interval"`
	PurgeInterval      string `yaml:"purge_interval"`
	DeviceTypeID       int    `yaml:"device_type_id"`
	MaxImportRows      int    `yaml:"max_import_rows"`
}

// LoadConfig loads tracking config from yaml (TRACKING_CONFIG) or env,
// with defaults matching the upstream polling contract: 24h history
// window, 300s cache TTL, 180-day retention.
func LoadConfig() (Config, error) {
	cfg := Config{
		HistoryWindowHours: getenvIntDefault("TRACKING_HISTORY_WINDOW_HOURS", 24),
		CacheTTLSeconds:    getenvIntDefault("TRACKING_CACHE_TTL_SECONDS", 300),
		RetentionDays:      getenvIntDefault("TRACKING_RETENTION_DAYS", 180),
		RefreshInterval:    getenvDefault("TRACKING_REFRESH_INTERVAL", "5m"),
		PurgeInterval:      getenvDefault("TRACKING_PURGE_INTERVAL", "24h"),
		DeviceTypeID:       getenvIntDefault("TRACKING_DEVICE_TYPE_ID", 0),
		MaxImportRows:      getenvIntDefault("TRACKING_MAX_IMPORT_ROWS", 100000),
	}

	if path := os.Getenv("TRACKING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.HistoryWindowHours <= 0 {
		return cfg, errors.New("tracking config: history window must be positive")
	}
	if cfg.CacheTTLSeconds <= 0 {
		return cfg, errors.New("tracking config: cache ttl must be positive")
	}
	if cfg.RetentionDays <= 0 {
		return cfg, errors.New("tracking config: retention must be positive")
	}
	return cfg, nil
}

// HistoryWindow returns the history fetch window as a duration.
func (c Config) HistoryWindow() time.Duration {
	return time.Duration(c.HistoryWindowHours) * time.Hour
}

// CacheTTL returns the history cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Retention returns the stored-position retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
