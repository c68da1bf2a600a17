package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lead router
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds PostgreSQL settings. An empty URL keeps the catalog
// and ledger in memory.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds Redis settings. An empty URL keeps dedupe and capacity
// state in process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig holds matching engine tunables
type EngineConfig struct {
	DedupeWindowSeconds   int `yaml:"dedupe_window_seconds"`
	ReservationTTLSeconds int `yaml:"reservation_ttl_seconds"`
	ReapIntervalSeconds   int `yaml:"reap_interval_seconds"`
	SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
	MatchWorkers          int `yaml:"match_workers"`
	CatalogRefreshSeconds int `yaml:"catalog_refresh_seconds"`
}

// DedupeWindow returns the dedupe window as a duration
func (c EngineConfig) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowSeconds) * time.Second
}

// ReservationTTL returns how long a reservation may stay held
func (c EngineConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

// ReapInterval returns the reservation reaper period
func (c EngineConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// SweepInterval returns the dedupe sweeper period
func (c EngineConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// CatalogRefresh returns the catalog reload period
func (c EngineConfig) CatalogRefresh() time.Duration {
	return time.Duration(c.CatalogRefreshSeconds) * time.Second
}

// DispatchConfig holds buyer delivery settings
type DispatchConfig struct {
	TimeoutMs              int `yaml:"timeout_ms"`
	MaxRetries             int `yaml:"max_retries"`
	RetryBaseDelayMs       int `yaml:"retry_base_delay_ms"`
	BreakerThreshold       int `yaml:"breaker_threshold"`
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds"`
}

// Timeout returns the per-call delivery timeout
func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RetryBaseDelay returns the first retry backoff
func (c DispatchConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// BreakerCooldown returns how long an open circuit skips a route
func (c DispatchConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// LedgerConfig holds ledger sink and archive settings
type LedgerConfig struct {
	SQSQueueURL            string `yaml:"sqs_queue_url"`
	ArchiveBucket          string `yaml:"archive_bucket"`
	ArchiveRegion          string `yaml:"archive_region"`
	ArchiveIntervalMinutes int    `yaml:"archive_interval_minutes"`
}

// ArchiveInterval returns the archive period
func (c LedgerConfig) ArchiveInterval() time.Duration {
	return time.Duration(c.ArchiveIntervalMinutes) * time.Minute
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Engine.DedupeWindowSeconds == 0 {
		cfg.Engine.DedupeWindowSeconds = 24 * 60 * 60
	}
	if cfg.Engine.ReservationTTLSeconds == 0 {
		cfg.Engine.ReservationTTLSeconds = 120
	}
	if cfg.Engine.ReapIntervalSeconds == 0 {
		cfg.Engine.ReapIntervalSeconds = 10
	}
	if cfg.Engine.SweepIntervalSeconds == 0 {
		cfg.Engine.SweepIntervalSeconds = 60
	}
	if cfg.Engine.MatchWorkers == 0 {
		cfg.Engine.MatchWorkers = 8
	}
	if cfg.Engine.CatalogRefreshSeconds == 0 {
		cfg.Engine.CatalogRefreshSeconds = 30
	}
	if cfg.Dispatch.TimeoutMs == 0 {
		cfg.Dispatch.TimeoutMs = 5000
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 1
	}
	if cfg.Dispatch.RetryBaseDelayMs == 0 {
		cfg.Dispatch.RetryBaseDelayMs = 100
	}
	if cfg.Dispatch.BreakerThreshold == 0 {
		cfg.Dispatch.BreakerThreshold = 5
	}
	if cfg.Dispatch.BreakerCooldownSeconds == 0 {
		cfg.Dispatch.BreakerCooldownSeconds = 60
	}
	if cfg.Ledger.ArchiveRegion == "" {
		cfg.Ledger.ArchiveRegion = "us-west-2"
	}
	if cfg.Ledger.ArchiveIntervalMinutes == 0 {
		cfg.Ledger.ArchiveIntervalMinutes = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. A
// missing config file is not an error; defaults and env vars apply.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LEDGER_SQS_QUEUE_URL"); v != "" {
		cfg.Ledger.SQSQueueURL = v
	}
	if v := os.Getenv("LEDGER_ARCHIVE_BUCKET"); v != "" {
		cfg.Ledger.ArchiveBucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
