package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Counter liveness configuration
	CounterLivenessTimeout time.Duration
	CounterSweepInterval   time.Duration

	// Queue configuration
	DefaultAvgServiceTime time.Duration
	DefaultTicketPrefix   string

	// Display configuration
	DisplayGraceWindow time.Duration

	// Client sync configuration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Stats configuration
	StatsRefreshInterval time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Counter liveness
		CounterLivenessTimeout: getEnvAsDuration("COUNTER_LIVENESS_TIMEOUT", "90s"),
		CounterSweepInterval:   getEnvAsDuration("COUNTER_SWEEP_INTERVAL", "30s"),

		// Queue
		DefaultAvgServiceTime: getEnvAsDuration("DEFAULT_AVG_SERVICE_TIME", "5m"),
		DefaultTicketPrefix:   getEnv("DEFAULT_TICKET_PREFIX", "T"),

		// Display
		DisplayGraceWindow: getEnvAsDuration("DISPLAY_GRACE_WINDOW", "1500ms"),

		// Client sync
		ReconnectBaseDelay:   getEnvAsDuration("RECONNECT_BASE_DELAY", "1s"),
		ReconnectMaxDelay:    getEnvAsDuration("RECONNECT_MAX_DELAY", "30s"),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 10),

		// Stats
		StatsRefreshInterval: getEnvAsDuration("STATS_REFRESH_INTERVAL", "15s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
