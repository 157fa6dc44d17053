/*
Package config holds the offline core's configuration options.

cmd/server/main.go in the resource-accounting engine this core grew
from parses two flags directly into locals. This core has many more
knobs spread across five components,
so they are collected into one struct with documented defaults,
optionally overridden by a JSON file; cmd/terminald's --data-dir flag
is the only flag that sets a field — there is no env-var or viper-style loader
here; see DESIGN.md for why a config library was not wired in.
*/
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is every tunable the offline core exposes.
type Config struct {
	DataDir string `json:"data_dir"`

	BackendURL string `json:"backend_url"`
	APIKey     string `json:"api_key"`

	HealthProbeIntervalMs        int `json:"health_probe_interval_ms"`
	HealthProbeTimeoutMs         int `json:"health_probe_timeout_ms"`
	ConsecutiveFailuresToOffline int `json:"consecutive_failures_to_offline"`

	SyncIntervalMinutes int  `json:"sync_interval_minutes"`
	AutoSyncEnabled     bool `json:"auto_sync_enabled"`

	HTTPTimeoutMs int `json:"http_timeout_ms"`

	BackupIntervalMinutes int `json:"backup_interval_minutes"`
	MaxBackupsToKeep      int `json:"max_backups_to_keep"`

	SentOperationRetentionDays int `json:"sent_operation_retention_days"`

	OfflineTransactionCap      string `json:"offline_transaction_cap"`
	OfflineDailyCap            string `json:"offline_daily_cap"`
	OfflineTransactionCountCap int    `json:"offline_transaction_count_cap"`
}

// Default returns the documented defaults for every option.
func Default() Config {
	return Config{
		DataDir: "./data",

		HealthProbeIntervalMs:        30000,
		HealthProbeTimeoutMs:         5000,
		ConsecutiveFailuresToOffline: 3,

		SyncIntervalMinutes: 5,
		AutoSyncEnabled:     true,

		HTTPTimeoutMs: 10000,

		BackupIntervalMinutes: 30,
		MaxBackupsToKeep:      10,

		SentOperationRetentionDays: 7,

		OfflineTransactionCap:      "",
		OfflineDailyCap:            "",
		OfflineTransactionCountCap: 0,
	}
}

// LoadFile merges a JSON config file on top of the defaults. A missing
// file is not an error; the caller runs on defaults plus flags.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) HealthProbeInterval() time.Duration {
	return time.Duration(c.HealthProbeIntervalMs) * time.Millisecond
}

func (c Config) HealthProbeTimeout() time.Duration {
	return time.Duration(c.HealthProbeTimeoutMs) * time.Millisecond
}

func (c Config) SyncInterval() time.Duration {
	mins := c.SyncIntervalMinutes
	if mins < 1 {
		mins = 1
	}
	if mins > 60 {
		mins = 60
	}
	return time.Duration(mins) * time.Minute
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

func (c Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalMinutes) * time.Minute
}

func (c Config) SentOperationRetention() time.Duration {
	return time.Duration(c.SentOperationRetentionDays) * 24 * time.Hour
}
