package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`
	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	Redis struct {
		Addr string `yaml:"addr"` // empty disables the shared fallback cache
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	WebSocket struct {
		Port            int `yaml:"port"`
		PingIntervalSec int `yaml:"ping_interval_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	} `yaml:"websocket"`
	JWT struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"jwt"`
	Tracking struct {
		MaxSpeedKmh          float64 `yaml:"max_speed_kmh"`
		MaxPastSkewMin       int     `yaml:"max_past_skew_min"`
		MaxFutureSkewMin     int     `yaml:"max_future_skew_min"`
		MinSampleIntervalSec int     `yaml:"min_sample_interval_sec"`
		NearStopThresholdKm  float64 `yaml:"near_stop_threshold_km"`
		SyncFlushIntervalSec int     `yaml:"sync_flush_interval_sec"`
		SyncRetryLimit       int     `yaml:"sync_retry_limit"`
	} `yaml:"tracking"`
}

// LoadFromFile loads config from a YAML file to a Config struct, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// WebSocket
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 8080
	}
	if cfg.WebSocket.PingIntervalSec == 0 {
		cfg.WebSocket.PingIntervalSec = 30
	}
	if cfg.WebSocket.ReadTimeoutSec == 0 {
		cfg.WebSocket.ReadTimeoutSec = 60
	}

	// Tracking
	if cfg.Tracking.MaxSpeedKmh == 0 {
		cfg.Tracking.MaxSpeedKmh = 200
	}
	if cfg.Tracking.MaxPastSkewMin == 0 {
		cfg.Tracking.MaxPastSkewMin = 5
	}
	if cfg.Tracking.MaxFutureSkewMin == 0 {
		cfg.Tracking.MaxFutureSkewMin = 1
	}
	if cfg.Tracking.MinSampleIntervalSec == 0 {
		cfg.Tracking.MinSampleIntervalSec = 3
	}
	if cfg.Tracking.NearStopThresholdKm == 0 {
		cfg.Tracking.NearStopThresholdKm = 0.2
	}
	if cfg.Tracking.SyncFlushIntervalSec == 0 {
		cfg.Tracking.SyncFlushIntervalSec = 30
	}
	if cfg.Tracking.SyncRetryLimit == 0 {
		cfg.Tracking.SyncRetryLimit = 5
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database is required")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// WebSocket
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		problems = append(problems, "websocket.port must be in 1..65535")
	}
	if c.WebSocket.PingIntervalSec < 1 {
		problems = append(problems, "websocket.ping_interval_sec must be >= 1")
	}
	if c.WebSocket.ReadTimeoutSec <= c.WebSocket.PingIntervalSec {
		problems = append(problems, "websocket.read_timeout_sec must exceed ping_interval_sec")
	}

	// Tracking
	if c.Tracking.MaxSpeedKmh <= 0 {
		problems = append(problems, "tracking.max_speed_kmh must be > 0")
	}
	if c.Tracking.SyncRetryLimit < 1 {
		problems = append(problems, "tracking.sync_retry_limit must be >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// PingInterval returns the WS heartbeat interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingIntervalSec) * time.Second
}

// ReadTimeout returns the WS idle read deadline.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.WebSocket.ReadTimeoutSec) * time.Second
}

// MaxPastSkew returns how far in the past a sample timestamp may be.
func (c *Config) MaxPastSkew() time.Duration {
	return time.Duration(c.Tracking.MaxPastSkewMin) * time.Minute
}

// MaxFutureSkew returns how far in the future a sample timestamp may be.
func (c *Config) MaxFutureSkew() time.Duration {
	return time.Duration(c.Tracking.MaxFutureSkewMin) * time.Minute
}

// MinSampleInterval returns the per-connection location throttle window.
func (c *Config) MinSampleInterval() time.Duration {
	return time.Duration(c.Tracking.MinSampleIntervalSec) * time.Second
}

// SyncFlushInterval returns the offline queue flush cadence.
func (c *Config) SyncFlushInterval() time.Duration {
	return time.Duration(c.Tracking.SyncFlushIntervalSec) * time.Second
}
