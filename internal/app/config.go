package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Remexa notification backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Email       EmailConfig       `mapstructure:"email"`
	SMS         GatewaySettings   `mapstructure:"sms"`
	Push        GatewaySettings   `mapstructure:"push"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	LogLevel   string `mapstructure:"log_level"`
	AdminToken string `mapstructure:"admin_token"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Name     string            `mapstructure:"name"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options. When disabled the service
// falls back to the database-backed cache store.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GatewaySettings points a channel sender at an HTTP delivery gateway. A
// disabled gateway leaves the sender in logged-only mode.
type GatewaySettings struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// QueueConfig tunes the dispatch queue worker pool and retry policy.
type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
}

// MaintenanceConfig controls the background janitor schedules.
type MaintenanceConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	JobRetentionDays int    `mapstructure:"job_retention_days"`
	JobsSchedule     string `mapstructure:"jobs_schedule"`
	StalledSchedule  string `mapstructure:"stalled_schedule"`
	CacheSchedule    string `mapstructure:"cache_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("REMEXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/remexa.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.from", "notifications@remexa.io")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.url", "")
	v.SetDefault("sms.from", "REMEXA")
	v.SetDefault("sms.timeout", "15s")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.url", "")
	v.SetDefault("push.timeout", "15s")

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.base_delay", "5s")
	v.SetDefault("queue.max_delay", "10m")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.stall_timeout", "5m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.job_retention_days", 7)
	v.SetDefault("maintenance.jobs_schedule", "@hourly")
	v.SetDefault("maintenance.stalled_schedule", "@every 5m")
	v.SetDefault("maintenance.cache_schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
