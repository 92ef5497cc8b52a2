package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader resolves configuration from defaults, an optional config
// file, and MEALSYNC_* environment variables, in increasing order of
// precedence.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty configPath searches the
// standard locations instead of requiring a file.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix("MEALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load builds the effective configuration.
func (l *Loader) Load() (*Config, error) {
	// A .env file feeds AutomaticEnv; absence is not an error.
	_ = godotenv.Load()

	l.setDefaults()

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (l *Loader) readConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		return nil
	}

	l.v.SetConfigName("mealsync")
	l.v.SetConfigType("json")
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "mealsync"))
		l.v.AddConfigPath(filepath.Join(home, ".mealsync"))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults and environment carry the day.
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func (l *Loader) setDefaults() {
	def := DefaultConfig()

	l.v.SetDefault("api.base_url", def.API.BaseURL)
	l.v.SetDefault("api.timeout", def.API.Timeout)
	l.v.SetDefault("api.max_retries", def.API.MaxRetries)
	l.v.SetDefault("api.retry_delay", def.API.RetryDelay)
	l.v.SetDefault("api.user_agent", def.API.UserAgent)

	l.v.SetDefault("auth.token_file", def.Auth.TokenFile)
	l.v.SetDefault("auth.device_secret_file", def.Auth.DeviceSecretFile)

	l.v.SetDefault("storage.data_dir", def.Storage.DataDir)
	l.v.SetDefault("storage.backend", def.Storage.Backend)
	l.v.SetDefault("storage.store_dir", def.Storage.StoreDir)
	l.v.SetDefault("storage.database_file", def.Storage.DatabaseFile)

	l.v.SetDefault("sync.batch_limit", def.Sync.BatchLimit)
	l.v.SetDefault("sync.auto_sync", def.Sync.AutoSync)
	l.v.SetDefault("sync.interval", def.Sync.Interval)
	l.v.SetDefault("sync.retry_base", def.Sync.RetryBase)
	l.v.SetDefault("sync.retry_max", def.Sync.RetryMax)
	l.v.SetDefault("sync.probe_interval", def.Sync.ProbeInterval)
	l.v.SetDefault("sync.probe_timeout", def.Sync.ProbeTimeout)

	l.v.SetDefault("log.level", def.Log.Level)
	l.v.SetDefault("log.format", def.Log.Format)
	l.v.SetDefault("log.file", def.Log.File)
	l.v.SetDefault("log.max_size", def.Log.MaxSize)
	l.v.SetDefault("log.max_backups", def.Log.MaxBackups)
	l.v.SetDefault("log.max_age", def.Log.MaxAge)
	l.v.SetDefault("log.color", def.Log.Color)

	l.v.SetDefault("dev.insecure_skip_verify", false)
	l.v.SetDefault("dev.force_offline", false)
}

// Load resolves configuration from the given file path (optional) plus
// environment, using a fresh loader.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
