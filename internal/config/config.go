// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event bus selection for multi-instance deployments.
const (
	BusNone  = "none"
	BusRedis = "redis"
	BusNATS  = "nats"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	InstanceID       string
	EventBus         string // "none", "redis", or "nats"
	RedisAddr        string
	NATSURL          string
	TypingTTL        time.Duration
	HeartbeatTimeout time.Duration
	SendBuffer       int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/deskwire.db"),
		InstanceID:       getEnv("INSTANCE_ID", ""),
		EventBus:         strings.ToLower(getEnv("EVENT_BUS", BusNone)),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		TypingTTL:        getEnvDuration("TYPING_TTL", 3*time.Second),
		HeartbeatTimeout: getEnvDuration("HEARTBEAT_TIMEOUT", 45*time.Second),
		SendBuffer:       getEnvInt("SEND_BUFFER", 64),
	}

	if cfg.InstanceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "deskwire"
		}
		cfg.InstanceID = hostname + "-" + strconv.Itoa(os.Getpid())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.EventBus {
	case BusNone, BusRedis, BusNATS:
	default:
		return fmt.Errorf("EVENT_BUS must be one of none, redis, nats")
	}
	if c.EventBus == BusRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR cannot be empty when EVENT_BUS=redis")
	}
	if c.EventBus == BusNATS && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL cannot be empty when EVENT_BUS=nats")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be > 0")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must be > 0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
