package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Store backend selection.
	StoreDriver string // "redis" or "postgres"

	RedisAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort string

	AIServiceURL string

	// Auth settings.
	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	// Tracing.
	OTLPEndpoint   string
	TracingEnabled bool

	// Logging.
	LogLevel    string
	LogEncoding string

	// Per-worker / per-queue tuning.
	Namespace     string
	FetchInterval time.Duration
	BufferSize    int
	// MaxRetries is the API's default max_attempts for a push that
	// omits one (see api.Config.DefaultMaxAttempts).
	MaxRetries       int
	KeepAlive        time.Duration
	ReaperInterval   time.Duration
	OrphanAfter      time.Duration
	EnqueueScheduled bool
	ShutdownTimeout  time.Duration

	// SchedulerDefinitions is a JSON array of scheduler.Definition
	// values registered with the Registrar at startup, e.g.
	// `[{"name":"nightly-report","namespace":"nightly-report","schedule":"0 2 * * *","payload":"eyJjb21tYW5kIjoi..."}]`.
	// Empty means no recurring jobs are registered.
	SchedulerDefinitions string
}

func LoadConfig() *Config {
	return &Config{
		StoreDriver: getEnv("STORE_DRIVER", "redis"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "forgequeue"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "forgequeue"),

		EtcdEndpoints:     []string{getEnv("ETCD_ENDPOINTS", "localhost:2379")},
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort: getEnv("API_PORT", "8080"),

		AIServiceURL: getEnv("AI_SERVICE_URL", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "forgequeue"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),

		Namespace:        getEnv("NAMESPACE", "default"),
		FetchInterval:    getEnvAsDuration("FETCH_INTERVAL", time.Second),
		BufferSize:       getEnvAsInt("BUFFER_SIZE", 10),
		MaxRetries:       getEnvAsInt("MAX_RETRIES", 5),
		KeepAlive:        getEnvAsDuration("KEEP_ALIVE", 10*time.Second),
		ReaperInterval:   getEnvAsDuration("REAPER_INTERVAL", 30*time.Second),
		OrphanAfter:      getEnvAsDuration("ORPHAN_AFTER", 2*time.Minute),
		EnqueueScheduled: getEnvAsBool("ENQUEUE_SCHEDULED", true),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		SchedulerDefinitions: getEnv("SCHEDULER_DEFINITIONS", ""),
	}
}

// PostgresDSN builds a libpq-style DSN from the discrete DB_* fields.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}
