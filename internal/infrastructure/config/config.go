package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config is the root configuration structure for the tasking store service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Retention RetentionConfig `yaml:"retention"`
}

// DatabaseConfig contains backend connection settings.
type DatabaseConfig struct {
	// Driver selects the backend: "sqlite3" (default) or "pgx" (PostgreSQL).
	Driver string `yaml:"driver" env:"TASKING_DATABASE_DRIVER"`

	// Path is the SQLite database file. Ignored for PostgreSQL.
	Path string `yaml:"path" env:"TASKING_DATABASE_PATH"`

	// DSN is the PostgreSQL connection string. Ignored for SQLite.
	DSN string `yaml:"dsn" env:"TASKING_DATABASE_DSN"`

	WALMode     bool `yaml:"wal_mode"`
	BusyTimeout int  `yaml:"busy_timeout"`

	// MaxOpenConns bounds the connection pool. Open cursors hold a
	// connection each, so this must be larger than one.
	MaxOpenConns int `yaml:"max_open_conns" env:"TASKING_DATABASE_MAX_OPEN_CONNS"`
}

// StoreConfig contains settings shared by the tasking stores.
type StoreConfig struct {
	// Scope is the namespace stamped on every key issued by this instance.
	Scope uint32 `yaml:"scope" env:"TASKING_STORE_SCOPE"`

	StreamCache CacheConfig `yaml:"stream_cache"`
}

// CacheConfig bounds the command stream cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`

	// ExpireAfterAccess is the idle lifetime of an entry in seconds.
	ExpireAfterAccess int `yaml:"expire_after_access"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" env:"TASKING_MQTT_ENABLED"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"TASKING_MQTT_HOST"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"TASKING_MQTT_USERNAME"`
	Password string `yaml:"password" env:"TASKING_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token" env:"TASKING_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"TASKING_LOG_LEVEL"`
	Format string `yaml:"format"` // json or text

	// Output is stdout, stderr or discard.
	Output string `yaml:"output"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"TASKING_TELEMETRY_ENABLED"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint" env:"TASKING_TELEMETRY_ENDPOINT"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// RetentionConfig controls pruning of old command status reports.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a five-field cron expression.
	Schedule string `yaml:"schedule"`

	// MaxAge is how long status reports are kept, in hours.
	MaxAge int `yaml:"max_age"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TASKING_SECTION_KEY
// For example: TASKING_DATABASE_PATH, TASKING_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			Path:         "./data/tasking.db",
			WALMode:      true,
			BusyTimeout:  5,
			MaxOpenConns: 4,
		},
		Store: StoreConfig{
			Scope: 1,
			StreamCache: CacheConfig{
				MaxEntries:        100,
				ExpireAfterAccess: 60,
			},
		},
		MQTT: MQTTConfig{
			TopicPrefix: "osh/tasking",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tasking-store",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "stdout",
			ServiceName: "taskingd",
			SampleRate:  1.0,
		},
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
			MaxAge:   24 * 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Only fields tagged with `env` are considered; unset variables leave the
// file value untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite3")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for pgx")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite3, pgx)", c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 2 {
		errs = append(errs, "database.max_open_conns must be at least 2")
	}

	if c.Store.StreamCache.MaxEntries <= 0 {
		errs = append(errs, "store.stream_cache.max_entries must be positive")
	}
	if c.Store.StreamCache.ExpireAfterAccess <= 0 {
		errs = append(errs, "store.stream_cache.expire_after_access must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.Retention.Enabled {
		if c.Retention.Schedule == "" {
			errs = append(errs, "retention.schedule is required when retention is enabled")
		}
		if c.Retention.MaxAge <= 0 {
			errs = append(errs, "retention.max_age must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CacheTTL returns the stream cache idle lifetime as a Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Store.StreamCache.ExpireAfterAccess) * time.Second
}

// RetentionMaxAge returns the status retention window as a Duration.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAge) * time.Hour
}
