package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	AnalyticsTopic  string
	PublishEvents   bool

	// Rule configuration
	RulesPath       string
	RulesAutoReload bool

	// Analysis worker
	MaxConcurrentRuns int
	RunTimeout        time.Duration

	// Snapshot cache
	SnapshotCacheTTL time.Duration

	// Intake watcher
	DataLakePath    string
	WatchDebounce   time.Duration
	SweepSchedule   string
	SweepEnabled    bool
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 32*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "trialintel"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "trialintel123"),
		PostgresDB:       getEnv("POSTGRES_DB", "trialintel"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:   getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "trial-analytics"),
		AnalyticsTopic: getEnv("ANALYTICS_TOPIC", "trial.analytics.events"),
		PublishEvents:  getBoolEnv("PUBLISH_EVENTS", false),

		RulesPath:       getEnv("RULES_PATH", "configs/rules.yaml"),
		RulesAutoReload: getBoolEnv("RULES_AUTO_RELOAD", true),

		MaxConcurrentRuns: getIntEnv("MAX_CONCURRENT_RUNS", 4),
		RunTimeout:        getDuration("RUN_TIMEOUT", 10*time.Minute),

		SnapshotCacheTTL: getDuration("SNAPSHOT_CACHE_TTL", 24*time.Hour),

		DataLakePath:  getEnv("DATA_LAKE_PATH", "clinical_trial_data_lake"),
		WatchDebounce: getDuration("WATCH_DEBOUNCE", 2*time.Second),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 15m"),
		SweepEnabled:  getBoolEnv("SWEEP_ENABLED", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
