package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the copier core.
type Config struct {
	Port string

	// Identity: the partition key every registry call is scoped to.
	// Empty means "derive from the machine id".
	OwnerKey  string
	JWTSecret string

	// Storage
	DBPath string

	// Discovery search roots and patterns (YAML); empty uses the built-in defaults.
	DiscoveryConfig string

	// Activity thresholds
	PendingTimeout       time.Duration
	AccountTimeout       time.Duration
	PendingMaxAge        time.Duration
	ConfiguredEvictAfter time.Duration // 0 = never evict MASTER/SLAVE

	// Scheduler
	IngestInterval    time.Duration
	EvaluateInterval  time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/copier.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		OwnerKey:             strings.TrimSpace(os.Getenv("OWNER_KEY")),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		DBPath:               dbPath,
		DiscoveryConfig:      getEnv("DISCOVERY_CONFIG", ""),
		PendingTimeout:       getEnvDuration("PENDING_TIMEOUT", 5*time.Second),
		AccountTimeout:       getEnvDuration("ACCOUNT_TIMEOUT", 60*time.Second),
		PendingMaxAge:        getEnvDuration("PENDING_MAX_AGE", time.Hour),
		ConfiguredEvictAfter: getEnvDuration("CONFIGURED_EVICT_AFTER", 0),
		IngestInterval:       getEnvDuration("INGEST_INTERVAL", time.Second),
		EvaluateInterval:     getEnvDuration("EVALUATE_INTERVAL", time.Second),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		WriteTimeout:         getEnvDuration("WRITE_TIMEOUT", 5*time.Second),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
		Language:             getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "1h") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
