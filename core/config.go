package core

import (
	"fmt"
	"net"
	"strings"
	"time"
)

type InboundConfig struct {
	Enabled           bool     `koanf:"enabled" mapstructure:"enabled"`
	ValidateSignature bool     `koanf:"validate_signature" mapstructure:"validate_signature"`
	Secret            string   `koanf:"secret" mapstructure:"secret"`
	ToleranceSeconds  int      `koanf:"tolerance_seconds" mapstructure:"tolerance_seconds"`
	IPAllowlist       []string `koanf:"ip_allowlist" mapstructure:"ip_allowlist"`
	MaxBodyBytes      int64    `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Tolerance is zero when the staleness check is disabled.
func (c InboundConfig) Tolerance() time.Duration {
	if c.ToleranceSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ToleranceSeconds) * time.Second
}

type OutboundConfig struct {
	Enabled           bool `koanf:"enabled" mapstructure:"enabled"`
	MaxAttempts       int  `koanf:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSeconds    int  `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
	Concurrency       int  `koanf:"concurrency" mapstructure:"concurrency"`
	ResponseBodyLimit int  `koanf:"response_body_limit" mapstructure:"response_body_limit"`
}

func (c OutboundConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type QueueConfig struct {
	WorkerID           string `koanf:"worker_id" mapstructure:"worker_id"`
	PollIntervalMillis int    `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	LockTimeoutSeconds int    `koanf:"lock_timeout_seconds" mapstructure:"lock_timeout_seconds"`
	RetentionHours     int    `koanf:"retention_hours" mapstructure:"retention_hours"`
	InboundMaxAttempts int    `koanf:"inbound_max_attempts" mapstructure:"inbound_max_attempts"`
}

func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// LockTimeout is zero when stale lock reclaim is disabled.
func (c QueueConfig) LockTimeout() time.Duration {
	if c.LockTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

func (c QueueConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

type MetricsConfig struct {
	RetentionHours int `koanf:"retention_hours" mapstructure:"retention_hours"`
}

func (c MetricsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// DatabaseConfig selects the SQL backend. SecretKey, when set, seals
// subscriber secrets at rest.
type DatabaseConfig struct {
	Driver    string `koanf:"driver" mapstructure:"driver"`
	DSN       string `koanf:"dsn" mapstructure:"dsn"`
	Debug     bool   `koanf:"debug" mapstructure:"debug"`
	SecretKey string `koanf:"secret_key" mapstructure:"secret_key"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Inbound     InboundConfig  `koanf:"inbound" mapstructure:"inbound"`
	Outbound    OutboundConfig `koanf:"outbound" mapstructure:"outbound"`
	Queue       QueueConfig    `koanf:"queue" mapstructure:"queue"`
	Metrics     MetricsConfig  `koanf:"metrics" mapstructure:"metrics"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "relay",
		Inbound: InboundConfig{
			Enabled:           true,
			ValidateSignature: true,
			ToleranceSeconds:  300,
			MaxBodyBytes:      1 << 20,
		},
		Outbound: OutboundConfig{
			Enabled:           true,
			MaxAttempts:       6,
			TimeoutSeconds:    5,
			Concurrency:       10,
			ResponseBodyLimit: 4096,
		},
		Queue: QueueConfig{
			PollIntervalMillis: 1000,
			LockTimeoutSeconds: 900,
			RetentionHours:     168,
			InboundMaxAttempts: 5,
		},
		Metrics: MetricsConfig{
			RetentionHours: 168,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	for _, entry := range c.Inbound.IPAllowlist {
		if err := validateAllowlistEntry(entry); err != nil {
			return err
		}
	}
	if c.Outbound.MaxAttempts < 0 {
		return fmt.Errorf("core: outbound.max_attempts must not be negative")
	}
	if c.Outbound.Concurrency < 0 {
		return fmt.Errorf("core: outbound.concurrency must not be negative")
	}
	if c.Queue.PollIntervalMillis < 0 {
		return fmt.Errorf("core: queue.poll_interval_ms must not be negative")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "", "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	return nil
}

func validateAllowlistEntry(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("core: inbound.ip_allowlist entry %q is invalid: %w", entry, err)
		}
		return nil
	}
	if net.ParseIP(entry) == nil {
		return fmt.Errorf("core: inbound.ip_allowlist entry %q is invalid", entry)
	}
	return nil
}
