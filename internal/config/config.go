package config

import (
	"fmt"
	"time"
)

// Broker drivers.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// Transport limits.
	MaxMessageBytes   int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerMinute int   `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`

	// FrontendURL is where /game/new redirects; empty answers with JSON instead.
	FrontendURL string `mapstructure:"frontend_url" yaml:"frontend_url"`

	Broker              string        `mapstructure:"broker" yaml:"broker"`
	RedisAddr           string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword       string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB             int           `mapstructure:"redis_db" yaml:"redis_db"`
	ReconnectMinBackoff time.Duration `mapstructure:"reconnect_min_backoff" yaml:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect_max_backoff" yaml:"reconnect_max_backoff"`
	PublishRetries      int           `mapstructure:"publish_retries" yaml:"publish_retries"`

	RejoinGrace time.Duration `mapstructure:"rejoin_grace" yaml:"rejoin_grace"`
	SyncTimeout time.Duration `mapstructure:"sync_timeout" yaml:"sync_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8000",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		LogFormat:           "console",
		MaxMessageBytes:     1 << 20,
		MessagesPerMinute:   120,
		FrontendURL:         "http://localhost:3000",
		Broker:              BrokerMemory,
		RedisAddr:           "localhost:6379",
		ReconnectMinBackoff: 100 * time.Millisecond,
		ReconnectMaxBackoff: 5 * time.Second,
		PublishRetries:      3,
		RejoinGrace:         10 * time.Second,
		SyncTimeout:         2 * time.Second,
	}
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("broker %q requires redis_addr", c.Broker)
		}
	default:
		return fmt.Errorf("unknown broker %q (want %s or %s)", c.Broker, BrokerMemory, BrokerRedis)
	}
	if c.ReconnectMaxBackoff < c.ReconnectMinBackoff {
		return fmt.Errorf("reconnect_max_backoff %s is below reconnect_min_backoff %s", c.ReconnectMaxBackoff, c.ReconnectMinBackoff)
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.MessagesPerMinute != 0 {
		c.MessagesPerMinute = other.MessagesPerMinute
	}
	if other.FrontendURL != "" {
		c.FrontendURL = other.FrontendURL
	}
	if other.Broker != "" {
		c.Broker = other.Broker
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.RedisPassword != "" {
		c.RedisPassword = other.RedisPassword
	}
	if other.RedisDB != 0 {
		c.RedisDB = other.RedisDB
	}
	if other.ReconnectMinBackoff != 0 {
		c.ReconnectMinBackoff = other.ReconnectMinBackoff
	}
	if other.ReconnectMaxBackoff != 0 {
		c.ReconnectMaxBackoff = other.ReconnectMaxBackoff
	}
	if other.PublishRetries != 0 {
		c.PublishRetries = other.PublishRetries
	}
	if other.RejoinGrace != 0 {
		c.RejoinGrace = other.RejoinGrace
	}
	if other.SyncTimeout != 0 {
		c.SyncTimeout = other.SyncTimeout
	}
}
