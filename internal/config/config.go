// Package config loads server configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr     string
	AllowedOrigins []string

	// Database
	DatabasePath string

	// Scheduler
	SchedulerInterval time.Duration

	// Persistence retry policy
	StoreRetryAttempts int
	StoreRetryInitial  time.Duration

	// Ticket poller; disabled when TicketsBaseURL is empty.
	TicketsBaseURL  string
	TicketsToken    string
	TicketsPageSize int
	TicketsSpec     string // cron spec

	LogLevel string
}

// Load reads configuration from BANDEJA_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         getEnv("BANDEJA_LISTEN", ":3000"),
		AllowedOrigins:     parseList("BANDEJA_ALLOWED_ORIGINS", []string{"*"}),
		DatabasePath:       getEnv("BANDEJA_DB_PATH", "data/bandeja.db"),
		SchedulerInterval:  parseDuration("BANDEJA_SCHEDULER_INTERVAL", 10*time.Second),
		StoreRetryAttempts: parseInt("BANDEJA_STORE_RETRY_ATTEMPTS", 3),
		StoreRetryInitial:  parseDuration("BANDEJA_STORE_RETRY_INITIAL", 200*time.Millisecond),
		TicketsBaseURL:     os.Getenv("BANDEJA_TICKETS_URL"),
		TicketsToken:       os.Getenv("BANDEJA_TICKETS_TOKEN"),
		TicketsPageSize:    parseInt("BANDEJA_TICKETS_PAGE_SIZE", 100),
		TicketsSpec:        getEnv("BANDEJA_TICKETS_SPEC", "@every 1m"),
		LogLevel:           getEnv("BANDEJA_LOG_LEVEL", "info"),
	}
	// The retry count feeds an unsigned backoff bound; zero or negative
	// values must not wrap into unbounded retries.
	if cfg.StoreRetryAttempts < 1 {
		cfg.StoreRetryAttempts = 1
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
