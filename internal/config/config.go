// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port               string
	DatabasePath       string
	Version            string
	RateLimitPerMinute int
	CORSAllowedOrigins []string
	TrustedProxies     []string
	SentryDSN          string
	SentryEnvironment  string
	ShutdownTimeout    time.Duration

	Live LiveConfig
}

// LiveConfig tunes the WebSocket live channel.
type LiveConfig struct {
	// HeartbeatTimeout is how long a connection may stay silent before it is closed.
	HeartbeatTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	// SendBuffer is the per-subscriber queue length; a full queue drops the subscriber.
	SendBuffer int
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8000"),
		DatabasePath:       getEnv("DATABASE_PATH", "./quickpoll.db"),
		Version:            getEnv("APP_VERSION", "1.0.0"),
		RateLimitPerMinute: getPositiveIntEnv("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: getStringSliceEnvDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		TrustedProxies:     getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		SentryEnvironment:  getEnv("SENTRY_ENVIRONMENT", "production"),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
		Live: LiveConfig{
			HeartbeatTimeout: getDurationEnv("LIVE_HEARTBEAT_TIMEOUT", 60*time.Second),
			PingInterval:     getDurationEnv("LIVE_PING_INTERVAL", 25*time.Second),
			WriteTimeout:     getDurationEnv("LIVE_WRITE_TIMEOUT", 5*time.Second),
			SendBuffer:       getPositiveIntEnv("LIVE_SEND_BUFFER", 64),
		},
	}
}

// AllowsAnyOrigin reports whether the wildcard origin is configured.
func (c *Config) AllowsAnyOrigin() bool {
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getStringSliceEnvDefault(key string, defaultValue []string) []string {
	if result := getStringSliceEnv(key); len(result) > 0 {
		return result
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getPositiveIntEnv is getIntEnv for settings where zero or less makes no sense.
func getPositiveIntEnv(key string, defaultValue int) int {
	if v := getIntEnv(key, defaultValue); v > 0 {
		return v
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
