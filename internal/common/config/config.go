// Package config provides configuration management for Agentplane.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Agentplane.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// SchedulerConfig holds scheduler service configuration.
type SchedulerConfig struct {
	Port                 int  `mapstructure:"port"`
	ReloadInterval       int  `mapstructure:"reloadInterval"`       // seconds between reconciliation passes
	DefaultTimeout       int  `mapstructure:"defaultTimeout"`       // seconds, per-schedule default
	MinTimeout           int  `mapstructure:"minTimeout"`           // seconds, lower bound for timeout_seconds
	MaxTimeout           int  `mapstructure:"maxTimeout"`           // seconds, upper bound for timeout_seconds
	LockAcquireTimeout   int  `mapstructure:"lockAcquireTimeout"`   // seconds to wait for the per-agent lock
	LockLeaseMargin      int  `mapstructure:"lockLeaseMargin"`      // seconds added to the lock lease beyond the task timeout
	PublishEvents        bool `mapstructure:"publishEvents"`
	ResponseTruncateSize int  `mapstructure:"responseTruncateBytes"` // max stored response bytes

	// ControlPlaneURL is the base URL of the control plane, used for the
	// internal activities API.
	ControlPlaneURL string `mapstructure:"controlPlaneURL"`
}

// QueueConfig holds execution queue configuration.
type QueueConfig struct {
	MaxSize      int `mapstructure:"maxSize"`      // wait list capacity per agent
	ExecutionTTL int `mapstructure:"executionTTL"` // seconds before a stale running slot self-clears
	WaitTimeout  int `mapstructure:"waitTimeout"`  // seconds; reserved, not enforced
}

// DatabaseConfig holds database connection configuration.
// Driver selects between the embedded SQLite store and PostgreSQL.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite database file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// RedisConfig holds Redis connection configuration. Redis backs the
// execution queue, the per-agent distributed lock, and the
// scheduler:events pub/sub channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS messaging configuration for the internal event bus.
// An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host        string `mapstructure:"host"`
	APIVersion  string `mapstructure:"apiVersion"`
	HelperImage string `mapstructure:"helperImage"` // image used for one-shot volume ownership fixes
	StopGrace   int    `mapstructure:"stopGrace"`   // seconds to wait for graceful container stop
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// ReloadIntervalDuration returns the reconciliation interval as a time.Duration.
func (s *SchedulerConfig) ReloadIntervalDuration() time.Duration {
	return time.Duration(s.ReloadInterval) * time.Second
}

// ExecutionTTLDuration returns the running-slot TTL as a time.Duration.
func (q *QueueConfig) ExecutionTTLDuration() time.Duration {
	return time.Duration(q.ExecutionTTL) * time.Second
}

// StopGraceDuration returns the container stop grace period as a time.Duration.
func (d *DockerConfig) StopGraceDuration() time.Duration {
	return time.Duration(d.StopGrace) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTPLANE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Scheduler defaults
	v.SetDefault("scheduler.port", 8081)
	v.SetDefault("scheduler.reloadInterval", 60)
	v.SetDefault("scheduler.defaultTimeout", 900)
	v.SetDefault("scheduler.minTimeout", 300)
	v.SetDefault("scheduler.maxTimeout", 7200)
	v.SetDefault("scheduler.lockAcquireTimeout", 5)
	v.SetDefault("scheduler.lockLeaseMargin", 60)
	v.SetDefault("scheduler.publishEvents", true)
	v.SetDefault("scheduler.responseTruncateBytes", 10240)
	v.SetDefault("scheduler.controlPlaneURL", "http://localhost:8080")

	// Queue defaults
	v.SetDefault("queue.maxSize", 3)
	v.SetDefault("queue.executionTTL", 600)
	v.SetDefault("queue.waitTimeout", 120)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentplane.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentplane")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentplane")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentplane")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.helperImage", "busybox:stable")
	v.SetDefault("docker.stopGrace", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTPLANE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentplane/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare operational knobs keep their historical env names alongside the
	// prefixed viper keys.
	_ = v.BindEnv("queue.maxSize", "MAX_QUEUE_SIZE", "AGENTPLANE_QUEUE_MAX_SIZE")
	_ = v.BindEnv("queue.executionTTL", "EXECUTION_TTL_SECONDS", "AGENTPLANE_QUEUE_EXECUTION_TTL")
	_ = v.BindEnv("queue.waitTimeout", "QUEUE_WAIT_TIMEOUT_SECONDS", "AGENTPLANE_QUEUE_WAIT_TIMEOUT")
	_ = v.BindEnv("scheduler.reloadInterval", "RELOAD_INTERVAL_SECONDS", "AGENTPLANE_SCHEDULER_RELOAD_INTERVAL")
	_ = v.BindEnv("scheduler.defaultTimeout", "DEFAULT_TIMEOUT_SECONDS", "AGENTPLANE_SCHEDULER_DEFAULT_TIMEOUT")
	_ = v.BindEnv("scheduler.minTimeout", "MIN_TIMEOUT_SECONDS", "AGENTPLANE_SCHEDULER_MIN_TIMEOUT")
	_ = v.BindEnv("scheduler.maxTimeout", "MAX_TIMEOUT_SECONDS", "AGENTPLANE_SCHEDULER_MAX_TIMEOUT")
	_ = v.BindEnv("scheduler.lockAcquireTimeout", "LOCK_ACQUIRE_TIMEOUT_SECONDS", "AGENTPLANE_SCHEDULER_LOCK_ACQUIRE_TIMEOUT")
	_ = v.BindEnv("scheduler.publishEvents", "PUBLISH_EVENTS", "AGENTPLANE_SCHEDULER_PUBLISH_EVENTS")
	_ = v.BindEnv("scheduler.responseTruncateBytes", "RESPONSE_TRUNCATE_BYTES", "AGENTPLANE_SCHEDULER_RESPONSE_TRUNCATE_BYTES")
	_ = v.BindEnv("scheduler.controlPlaneURL", "CONTROL_PLANE_URL", "AGENTPLANE_SCHEDULER_CONTROL_PLANE_URL")
	_ = v.BindEnv("database.driver", "AGENTPLANE_DB_DRIVER")
	_ = v.BindEnv("database.path", "AGENTPLANE_DB_PATH")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR", "AGENTPLANE_REDIS_ADDR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentplane/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Scheduler.Port <= 0 || cfg.Scheduler.Port > 65535 {
		errs = append(errs, "scheduler.port must be between 1 and 65535")
	}
	if cfg.Scheduler.ReloadInterval <= 0 {
		errs = append(errs, "scheduler.reloadInterval must be positive")
	}
	if cfg.Scheduler.MinTimeout <= 0 || cfg.Scheduler.MaxTimeout < cfg.Scheduler.MinTimeout {
		errs = append(errs, "scheduler timeout bounds are invalid")
	}
	if cfg.Scheduler.DefaultTimeout < cfg.Scheduler.MinTimeout || cfg.Scheduler.DefaultTimeout > cfg.Scheduler.MaxTimeout {
		errs = append(errs, "scheduler.defaultTimeout must fall within [minTimeout, maxTimeout]")
	}

	if cfg.Queue.MaxSize < 0 {
		errs = append(errs, "queue.maxSize must not be negative")
	}
	if cfg.Queue.ExecutionTTL <= 0 {
		errs = append(errs, "queue.executionTTL must be positive")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.User == "" || cfg.Database.DBName == "" {
			errs = append(errs, "database.host, database.user and database.dbName are required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be sqlite or postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
