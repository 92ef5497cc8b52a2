package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.platewise.app", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendJSON, cfg.Storage.Backend)
	assert.Equal(t, 20, cfg.Sync.BatchLimit)
	assert.True(t, cfg.Sync.AutoSync)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url is required",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.API.Timeout = 0 },
			wantErr: "api.timeout must be positive",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.API.MaxRetries = -1 },
			wantErr: "api.max_retries cannot be negative",
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.API.RetryDelay = 0 },
			wantErr: "api.retry_delay must be positive",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "redis" },
			wantErr: "invalid storage backend: redis",
		},
		{
			name:    "zero batch limit",
			mutate:  func(c *Config) { c.Sync.BatchLimit = 0 },
			wantErr: "sync.batch_limit must be positive",
		},
		{
			name:    "retry max below base",
			mutate:  func(c *Config) { c.Sync.RetryMax = time.Second; c.Sync.RetryBase = time.Minute },
			wantErr: "retry_max >= retry_base",
		},
		{
			name:    "zero probe interval",
			mutate:  func(c *Config) { c.Sync.ProbeInterval = 0 },
			wantErr: "probe interval and timeout must be positive",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "invalid log level: verbose",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "invalid log format: xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.StoreDir = filepath.Join(tmpDir, "data", "store")
	cfg.Auth.TokenFile = filepath.Join(tmpDir, "data", "auth", "token.bin")
	cfg.Storage.Backend = BackendSQLite
	cfg.Storage.DatabaseFile = filepath.Join(tmpDir, "data", "db", "mealsync.db")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "mealsync.log")

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{
		cfg.Storage.DataDir,
		cfg.Storage.StoreDir,
		filepath.Dir(cfg.Auth.TokenFile),
		filepath.Dir(cfg.Storage.DatabaseFile),
		filepath.Dir(cfg.Log.File),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, "directory %s", dir)
		assert.True(t, info.IsDir())
	}
}

func TestLoaderDefaults(t *testing.T) {
	// An explicitly named file must exist.
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err, "explicit missing file must fail loudly")

	// No file, no env: pure defaults.
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().API.BaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultConfig().Sync.Interval, cfg.Sync.Interval)
}

func TestLoaderFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mealsync.json")

	content := `{
		"api": {"base_url": "https://staging.platewise.app", "timeout": "45s"},
		"storage": {"backend": "sqlite"},
		"sync": {"batch_limit": 5, "auto_sync": false},
		"log": {"level": "debug", "format": "json"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.platewise.app", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Sync.BatchLimit)
	assert.False(t, cfg.Sync.AutoSync)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Unspecified keys keep their defaults.
	assert.Equal(t, DefaultConfig().API.UserAgent, cfg.API.UserAgent)
	assert.Equal(t, DefaultConfig().Sync.RetryBase, cfg.Sync.RetryBase)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("MEALSYNC_API_BASE_URL", "https://env.platewise.app")
	t.Setenv("MEALSYNC_SYNC_BATCH_LIMIT", "7")
	t.Setenv("MEALSYNC_LOG_LEVEL", "warn")

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "https://env.platewise.app", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.Sync.BatchLimit)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoaderEnvBeatsFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mealsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"level": "debug"}}`), 0600))

	t.Setenv("MEALSYNC_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoaderRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mealsync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"backend": "carrier-pigeon"}}`), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage backend")
}
