package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store backends supported for durable client state.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Development options
	Dev DevConfig `json:"dev,omitempty" mapstructure:"dev"`
}

// APIConfig for backend communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"` // Transport-level, per request
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"` // Initial transport backoff
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig for authentication settings.
type AuthConfig struct {
	// Token persistence (encrypted at rest)
	TokenFile string `json:"token_file" mapstructure:"token_file"`

	// Device secret used to derive the token encryption key.
	// Generated on first run if the file does not exist.
	DeviceSecretFile string `json:"device_secret_file" mapstructure:"device_secret_file"`
}

// StorageConfig for local persistence.
type StorageConfig struct {
	DataDir      string `json:"data_dir" mapstructure:"data_dir"`           // Base directory for all data
	Backend      string `json:"backend" mapstructure:"backend"`             // json or sqlite
	StoreDir     string `json:"store_dir" mapstructure:"store_dir"`         // JSON store directory
	DatabaseFile string `json:"database_file" mapstructure:"database_file"` // SQLite store path
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	BatchLimit    int           `json:"batch_limit" mapstructure:"batch_limit"`       // Items per SyncBatch call
	AutoSync      bool          `json:"auto_sync" mapstructure:"auto_sync"`           // Background drain loop
	Interval      time.Duration `json:"interval" mapstructure:"interval"`             // Periodic drain frequency
	RetryBase     time.Duration `json:"retry_base" mapstructure:"retry_base"`         // Initial backoff delay
	RetryMax      time.Duration `json:"retry_max" mapstructure:"retry_max"`           // Backoff ceiling
	ProbeInterval time.Duration `json:"probe_interval" mapstructure:"probe_interval"` // Connectivity check frequency
	ProbeTimeout  time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`   // Per-probe deadline
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DevConfig for development/debugging.
type DevConfig struct {
	InsecureSkipVerify bool `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	ForceOffline       bool `json:"force_offline" mapstructure:"force_offline"` // Skip probing, report offline
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".mealsync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.platewise.app",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
			UserAgent:  "PlateWise-Mealsync/1.0",
		},
		Auth: AuthConfig{
			TokenFile:        filepath.Join(dataDir, "auth", "token.bin"),
			DeviceSecretFile: filepath.Join(dataDir, "auth", "device.secret"),
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			Backend:      BackendJSON,
			StoreDir:     filepath.Join(dataDir, "store"),
			DatabaseFile: filepath.Join(dataDir, "mealsync.db"),
		},
		Sync: SyncConfig{
			BatchLimit:    20,
			AutoSync:      true,
			Interval:      5 * time.Minute,
			RetryBase:     30 * time.Second,
			RetryMax:      time.Hour,
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	if c.API.RetryDelay <= 0 {
		return errors.New("api.retry_delay must be positive")
	}

	if c.Storage.Backend != BackendJSON && c.Storage.Backend != BackendSQLite {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Sync.BatchLimit <= 0 {
		return errors.New("sync.batch_limit must be positive")
	}

	if c.Sync.RetryBase <= 0 || c.Sync.RetryMax < c.Sync.RetryBase {
		return errors.New("sync retry delays must be positive and retry_max >= retry_base")
	}

	if c.Sync.ProbeInterval <= 0 || c.Sync.ProbeTimeout <= 0 {
		return errors.New("sync probe interval and timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StoreDir,
		filepath.Dir(c.Auth.TokenFile),
	}

	if c.Storage.Backend == BackendSQLite {
		dirs = append(dirs, filepath.Dir(c.Storage.DatabaseFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
