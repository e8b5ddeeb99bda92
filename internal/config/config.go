package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	ListenAddr      string
	TLSListenAddr   string
	SwapiBaseURL    string
	UpstreamTimeout time.Duration
	CacheMaxEntries int

	DatabaseDriver   string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string
	SQLitePath       string

	EventQueueSize     int
	EventFlushBatch    int
	EventFlushInterval time.Duration
	EventSpoolDir      string
	EventSpoolMaxBytes int64

	MetricsSchedule string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		TLSListenAddr:      getEnv("TLS_LISTEN_ADDR", ""),
		SwapiBaseURL:       strings.TrimRight(mustGetEnv("SWAPI_BASE_URL"), "/"),
		UpstreamTimeout:    getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 10000),
		DatabaseDriver:     strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		PostgresUser:       getEnv("POSTGRES_USER", "swapi"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "swapi_proxy"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
		SQLitePath:         getEnv("SQLITE_PATH", "swapi-proxy.db"),
		EventQueueSize:     getEnvInt("EVENT_QUEUE_SIZE", 4096),
		EventFlushBatch:    getEnvInt("EVENT_FLUSH_BATCH", 256),
		EventFlushInterval: getEnvDuration("EVENT_FLUSH_INTERVAL", 2*time.Second),
		EventSpoolDir:      getEnv("EVENT_SPOOL_DIR", ""),
		EventSpoolMaxBytes: int64(getEnvInt("EVENT_SPOOL_MAX_BYTES", 64<<20)),
		MetricsSchedule:    getEnv("METRICS_SCHEDULE", "@every 1m"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	if u, err := url.Parse(cfg.SwapiBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		panic("SWAPI_BASE_URL must be an absolute URL, got " + cfg.SwapiBaseURL)
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		panic("DATABASE_DRIVER must be postgres or sqlite, got " + cfg.DatabaseDriver)
	}

	if _, err := cron.ParseStandard(cfg.MetricsSchedule); err != nil {
		panic("METRICS_SCHEDULE is not a valid cron expression: " + err.Error())
	}

	return cfg
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
