package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateNodeID creates a unique node ID using hostname and PID
func generateNodeID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "sync"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Auth
	JWTSecret string
	AuthMode  string // "jwt" or "internal" (X-User-Id behind the gateway)

	// Apply backend
	ApplyBaseURL    string
	ApplyTimeoutSec int

	// Sync engine
	NodeID            string
	SyncBatchSize     int
	SyncMaxRetries    int
	SyncInterval      time.Duration
	RetrySweep        time.Duration
	PurgeInterval     time.Duration
	PurgeRetention    time.Duration
	OfflineCacheTTL   time.Duration
	NotifyStreamMax   int64
	TriggerRateLimit  int
	TriggerRateWindow time.Duration

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "farmer_sync"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", ""),
		AuthMode:  getEnv("AUTH_MODE", "jwt"),

		// Apply backend
		ApplyBaseURL:    getEnv("APPLY_BASE_URL", ""),
		ApplyTimeoutSec: getEnvInt("APPLY_TIMEOUT_SEC", 30),

		// Sync engine
		NodeID:            getEnv("SYNC_NODE_ID", generateNodeID()),
		SyncBatchSize:     getEnvInt("SYNC_BATCH_SIZE", 100),
		SyncMaxRetries:    getEnvInt("SYNC_MAX_RETRIES", 3),
		SyncInterval:      time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 60)) * time.Second,
		RetrySweep:        time.Duration(getEnvInt("RETRY_SWEEP_INTERVAL_SEC", 300)) * time.Second,
		PurgeInterval:     time.Duration(getEnvInt("PURGE_INTERVAL_SEC", 3600)) * time.Second,
		PurgeRetention:    time.Duration(getEnvInt("PURGE_RETENTION_HOURS", 72)) * time.Hour,
		OfflineCacheTTL:   time.Duration(getEnvInt("OFFLINE_CACHE_TTL_HOURS", 24)) * time.Hour,
		NotifyStreamMax:   int64(getEnvInt("NOTIFY_STREAM_MAX", 10000)),
		TriggerRateLimit:  getEnvInt("TRIGGER_RATE_LIMIT", 10),
		TriggerRateWindow: time.Duration(getEnvInt("TRIGGER_RATE_WINDOW_SEC", 60)) * time.Second,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
