package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the seatkeeper service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Seats         SeatsConfig         `mapstructure:"seats"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Codes         CodesConfig         `mapstructure:"codes"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Email         EmailConfig         `mapstructure:"email"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles the public lifecycle endpoints per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RegistryConfig points at the agency token registry. An empty URL selects the local
// database-backed registry.
type RegistryConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// SeatsConfig selects how per-token admission is serialised.
type SeatsConfig struct {
	// Locker is "local" for a single instance or "redis" when several instances share a database.
	Locker  string        `mapstructure:"locker"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// LifecycleConfig holds the validity window of each request kind, in seconds.
type LifecycleConfig struct {
	InviteValiditySeconds       int `mapstructure:"invite_validity_seconds"`
	ReactivationValiditySeconds int `mapstructure:"reactivation_validity_seconds"`
	EmailChangeValiditySeconds  int `mapstructure:"email_change_validity_seconds"`
}

// CodesConfig configures agency-token assignment codes and the links sent to people.
type CodesConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	BaseURL       string `mapstructure:"base_url"`
}

// NotificationsConfig selects the notification sink.
type NotificationsConfig struct {
	Driver string      `mapstructure:"driver"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka notification sink.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
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

// AuthConfig captures session settings.
type AuthConfig struct {
	Session SessionSettings `mapstructure:"session"`
}

// SessionSettings configures session lifetimes.
type SessionSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	TokenLength int           `mapstructure:"token_length"`
}

// MaintenanceConfig controls housekeeping of old rows.
type MaintenanceConfig struct {
	Schedule      string `mapstructure:"schedule"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
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

	v.SetEnvPrefix("SEATKEEPER")
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

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	for key, seconds := range map[string]int{
		"lifecycle.invite_validity_seconds":       c.Lifecycle.InviteValiditySeconds,
		"lifecycle.reactivation_validity_seconds": c.Lifecycle.ReactivationValiditySeconds,
		"lifecycle.email_change_validity_seconds": c.Lifecycle.EmailChangeValiditySeconds,
	} {
		if seconds <= 0 {
			return fmt.Errorf("config: %s must be positive", key)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Seats.Locker)) {
	case "", "local", "redis":
	default:
		return fmt.Errorf("config: seats.locker %q is not supported", c.Seats.Locker)
	}

	switch strings.ToLower(strings.TrimSpace(c.Notifications.Driver)) {
	case "", "log", "smtp":
	case "kafka":
		if len(c.Notifications.Kafka.Brokers) == 0 || strings.TrimSpace(c.Notifications.Kafka.Topic) == "" {
			return errors.New("config: notifications.kafka needs brokers and a topic")
		}
	default:
		return fmt.Errorf("config: notifications.driver %q is not supported", c.Notifications.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 30)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/seatkeeper.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("registry.url", "")
	v.SetDefault("registry.timeout", "5s")
	v.SetDefault("registry.cache_ttl", "30s")

	v.SetDefault("seats.locker", "local")
	v.SetDefault("seats.lock_ttl", "10s")

	v.SetDefault("lifecycle.invite_validity_seconds", 259200)
	v.SetDefault("lifecycle.reactivation_validity_seconds", 86400)
	v.SetDefault("lifecycle.email_change_validity_seconds", 86400)

	v.SetDefault("codes.encryption_key", "")
	v.SetDefault("codes.base_url", "http://localhost:8000")

	v.SetDefault("notifications.driver", "log")
	v.SetDefault("notifications.kafka.brokers", []string{})
	v.SetDefault("notifications.kafka.topic", "seatkeeper.notifications")
	v.SetDefault("notifications.kafka.client_id", "seatkeeper")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("auth.session.ttl", "720h") // 30 days
	v.SetDefault("auth.session.token_length", 48)

	v.SetDefault("maintenance.schedule", "@hourly")
	v.SetDefault("maintenance.retention_days", 30)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
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
