// Package config loads engine configuration from a config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the sync engine.
type Config struct {
	// DataDir is the directory holding the database and log files.
	DataDir string

	// DatabasePath is the SQLite file. Defaults to DataDir/tallyconnect.db.
	DatabasePath string

	// BackupLogPath is the JSONL durability net for audit entries.
	// Defaults to DataDir/sync_logs.backup.jsonl.
	BackupLogPath string

	// LogPath is the rotated process log. Defaults to DataDir/tallyconnect.log.
	LogPath string
	// LogLevel is a logrus level name.
	LogLevel string

	BatchSize          int
	SliceThresholdDays int

	SourceConnectTimeout time.Duration

	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration
	AutoSyncLookback int // days

	LogRetentionDays int
}

// Load reads configuration from tallyconnect.yaml (searched in the working
// directory and DataDir) and TALLYCONNECT_* environment variables. Missing
// values fall back to defaults; a missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", ".tallyconnect")
	v.SetDefault("log_level", "info")
	v.SetDefault("batch_size", 500)
	v.SetDefault("slice_threshold_days", 365)
	v.SetDefault("source_connect_timeout_seconds", 30)
	v.SetDefault("auto_sync.enabled", false)
	v.SetDefault("auto_sync.interval_minutes", 60)
	v.SetDefault("auto_sync.lookback_days", 30)
	v.SetDefault("log_retention_days", 90)

	v.SetConfigName("tallyconnect")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(v.GetString("data_dir"))

	v.SetEnvPrefix("TALLYCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	dataDir := v.GetString("data_dir")

	cfg := &Config{
		DataDir:              dataDir,
		DatabasePath:         v.GetString("database_path"),
		BackupLogPath:        v.GetString("backup_log_path"),
		LogPath:              v.GetString("log_path"),
		LogLevel:             v.GetString("log_level"),
		BatchSize:            v.GetInt("batch_size"),
		SliceThresholdDays:   v.GetInt("slice_threshold_days"),
		SourceConnectTimeout: time.Duration(v.GetInt("source_connect_timeout_seconds")) * time.Second,
		AutoSyncEnabled:      v.GetBool("auto_sync.enabled"),
		AutoSyncInterval:     time.Duration(v.GetInt("auto_sync.interval_minutes")) * time.Minute,
		AutoSyncLookback:     v.GetInt("auto_sync.lookback_days"),
		LogRetentionDays:     v.GetInt("log_retention_days"),
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(dataDir, "tallyconnect.db")
	}
	if cfg.BackupLogPath == "" {
		cfg.BackupLogPath = filepath.Join(dataDir, "sync_logs.backup.jsonl")
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(dataDir, "tallyconnect.log")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	if c.SliceThresholdDays <= 0 {
		return fmt.Errorf("slice_threshold_days must be positive (got %d)", c.SliceThresholdDays)
	}
	if c.AutoSyncInterval <= 0 {
		return fmt.Errorf("auto_sync.interval_minutes must be positive")
	}
	if c.LogRetentionDays <= 0 {
		return fmt.Errorf("log_retention_days must be positive (got %d)", c.LogRetentionDays)
	}
	return nil
}
