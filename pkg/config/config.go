// Package config loads the process configuration for the API server. Values
// come from an optional YAML file, overridden by PRESTAYA_* environment
// variables, falling back to built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	_ "time/tzdata" // containers without a zoneinfo database

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g.
// PRESTAYA_DATABASE_DSN for database.dsn.
const EnvPrefix = "PRESTAYA"

// Configuration holds all configuration for the API server.
type Configuration struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

// ServerConfig holds the listener and the business time zone. The time zone
// decides which calendar day "today" is for late fees and the dashboard.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Timezone string `mapstructure:"timezone"`
}

// DatabaseConfig selects the storage backend. Driver is sqlite3 or postgres.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// CacheConfig enables Redis for schedule previews when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// JobsConfig holds cron specs for background jobs. An empty spec disables the job.
type JobsConfig struct {
	DelinquencySchedule string `mapstructure:"delinquency_schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timezone", "America/Bogota")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "prestaya.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("jobs.delinquency_schedule", "@daily")
}

// Load reads the configuration at path. An empty path skips the file and uses
// only defaults and the environment.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var conf Configuration
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate rejects values the server cannot start with.
func (c *Configuration) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %s", c.Cache.TTL)
	}
	return nil
}

// Location loads the business time zone. An empty name means UTC.
func (c *Configuration) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid server timezone %q: %w", c.Server.Timezone, err)
	}
	return loc, nil
}

// Addr is the listen address for the HTTP server.
func (c *Configuration) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// NewLogger creates a zap logger from cfg. A non-empty levelOverride takes
// precedence over cfg.Level.
func NewLogger(cfg LoggingConfig, levelOverride string) (*zap.Logger, error) {
	level := cfg.Level
	if levelOverride != "" {
		level = levelOverride
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var zc zap.Config
	switch cfg.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json", "":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel)
	return zc.Build()
}
