package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blacklakehq/blacklake/pkg/kv/local"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var ErrBadConfiguration = errors.New("bad configuration")

const (
	DefaultLoggingFormat = "text"
	DefaultLoggingLevel  = "INFO"

	DefaultDatabaseType = "local"

	DefaultAuthCacheSize   = 1024
	DefaultAuthCacheTTL    = 20 * time.Second
	DefaultAuthCacheJitter = 3 * time.Second

	DefaultListenAddress = "0.0.0.0:8000"
)

type LoggingConfig struct {
	Format        string   `mapstructure:"format"`
	Level         string   `mapstructure:"level"`
	Output        []string `mapstructure:"output"`
	FileMaxSizeMB int      `mapstructure:"file_max_size_mb"`
	FilesKeep     int      `mapstructure:"files_keep"`
}

type PostgresConfig struct {
	ConnectionString      string        `mapstructure:"connection_string"`
	MaxOpenConnections    int32         `mapstructure:"max_open_connections"`
	MaxIdleConnections    int32         `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	ScanPageSize          int           `mapstructure:"scan_page_size"`
	TableName             string        `mapstructure:"table_name"`
}

type LocalConfig struct {
	Path          string `mapstructure:"path"`
	SyncWrites    bool   `mapstructure:"sync_writes"`
	PrefetchSize  int    `mapstructure:"prefetch_size"`
	EnableLogging bool   `mapstructure:"enable_logging"`
}

type DatabaseConfig struct {
	Type     string          `mapstructure:"type"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
	Local    *LocalConfig    `mapstructure:"local"`
}

type AuthCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
	Jitter  time.Duration `mapstructure:"jitter"`
}

type Config struct {
	ListenAddress string          `mapstructure:"listen_address"`
	Logging       LoggingConfig   `mapstructure:"logging"`
	Database      DatabaseConfig  `mapstructure:"database"`
	AuthCache     AuthCacheConfig `mapstructure:"auth_cache"`
}

func setDefaults() {
	viper.SetDefault("listen_address", DefaultListenAddress)
	viper.SetDefault("logging.format", DefaultLoggingFormat)
	viper.SetDefault("logging.level", DefaultLoggingLevel)
	viper.SetDefault("logging.output", []string{"-"})
	viper.SetDefault("database.type", DefaultDatabaseType)
	viper.SetDefault("database.local.path", local.DefaultDirectoryPath)
	viper.SetDefault("auth_cache.enabled", true)
	viper.SetDefault("auth_cache.size", DefaultAuthCacheSize)
	viper.SetDefault("auth_cache.ttl", DefaultAuthCacheTTL)
	viper.SetDefault("auth_cache.jitter", DefaultAuthCacheJitter)
}

// NewConfig reads configuration from the loaded viper state plus
// BLACKLAKE_-prefixed environment variables.
func NewConfig() (*Config, error) {
	setDefaults()
	viper.SetEnvPrefix("BLACKLAKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	c := &Config{}
	err := viper.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return c, nil
}

// SetupLogging applies the logging section to the process logger.
func (c *Config) SetupLogging() {
	logging.SetLevel(c.Logging.Level)
	logging.SetOutputFormat(c.Logging.Format)
	logging.SetOutputs(c.Logging.Output, c.Logging.FileMaxSizeMB, c.Logging.FilesKeep)
}

// DatabaseParams translates the database section into kv driver parameters.
func (c *Config) DatabaseParams() (kvparams.KV, error) {
	params := kvparams.KV{Type: c.Database.Type}
	switch c.Database.Type {
	case "postgres":
		if c.Database.Postgres == nil {
			return params, fmt.Errorf("postgres settings missing: %w", ErrBadConfiguration)
		}
		params.Postgres = &kvparams.Postgres{
			ConnectionString:      c.Database.Postgres.ConnectionString,
			MaxOpenConnections:    c.Database.Postgres.MaxOpenConnections,
			MaxIdleConnections:    c.Database.Postgres.MaxIdleConnections,
			ConnectionMaxLifetime: c.Database.Postgres.ConnectionMaxLifetime,
			ScanPageSize:          c.Database.Postgres.ScanPageSize,
			TableName:             c.Database.Postgres.TableName,
		}
	case "local":
		localCfg := c.Database.Local
		if localCfg == nil {
			localCfg = &LocalConfig{Path: local.DefaultDirectoryPath}
		}
		params.Local = &kvparams.Local{
			Path:          localCfg.Path,
			SyncWrites:    localCfg.SyncWrites,
			PrefetchSize:  localCfg.PrefetchSize,
			EnableLogging: localCfg.EnableLogging,
		}
	case "mem":
		params.Mem = &kvparams.Mem{}
	default:
		return params, fmt.Errorf("unknown database type %q: %w", c.Database.Type, ErrBadConfiguration)
	}
	return params, nil
}
