// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings read from the environment at startup.
type Config struct {
	AppEnv   string
	LogLevel string
	Port     int

	// DatabaseURL selects PostgreSQL as the cart's durable store. RedisURL
	// alone selects Redis; both together put Redis in front of PostgreSQL.
	// Neither means an in-memory store.
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// StorageKey is the key the cart blob is stored under. Empty means the
	// persistence layer's default.
	StorageKey string

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string

	ShutdownTimeout time.Duration
}

// Load reads Config from the environment, falling back to defaults for
// unset or malformed values.
func Load() Config {
	return Config{
		AppEnv:          getEnv("APP_ENV", "dev"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvInt("PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		CacheTTL:        getEnvDuration("CACHE_TTL", 30*time.Second),
		StorageKey:      getEnv("CART_STORAGE_KEY", ""),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)

	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	dur, err := time.ParseDuration(v)
	if err != nil || dur <= 0 {
		return def
	}
	return dur
}
