package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr  string
	PublicURL string
	// NodeID seeds the snowflake generator; replicas need distinct values.
	NodeID int64
	// DefaultSource is stamped on samples that do not carry a source.
	DefaultSource string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis         RedisConfig
	Lock          LockConfig
	RateLimit     RateLimitConfig
	AMQP          AMQPConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend string
	TTL     time.Duration
	Wait    time.Duration
}

type RateLimitConfig struct {
	Enabled             bool
	IngestProjectRate   float64
	IngestProjectBurst  int
	IngestEndpointRate  float64
	IngestEndpointBurst int
}

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type ExportConfig struct {
	// Exporter is "prometheus_remote_write", "prometheus_pushgateway" or empty.
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "telemetry"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8777"),
		PublicURL:     strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_URL", "")), "/"),
		NodeID:        int64(getenvInt("NODE_ID", 1)),
		DefaultSource: strings.TrimSpace(getenv("DEFAULT_SOURCE", "openstack")),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "telemetry"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "telemetry.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			Backend: normalizeLockBackend(getenv("LOCK_BACKEND", LockBackendMemory)),
			TTL:     getenvDuration("LOCK_TTL", 10*time.Second),
			Wait:    getenvDuration("LOCK_WAIT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getenvBool("RATE_LIMIT_ENABLED", false),
			IngestProjectRate:   getenvFloat("RATE_LIMIT_INGEST_PROJECT_RATE", 50),
			IngestProjectBurst:  getenvInt("RATE_LIMIT_INGEST_PROJECT_BURST", 100),
			IngestEndpointRate:  getenvFloat("RATE_LIMIT_INGEST_ENDPOINT_RATE", 500),
			IngestEndpointBurst: getenvInt("RATE_LIMIT_INGEST_ENDPOINT_BURST", 1000),
		},
		AMQP: AMQPConfig{
			URL:        strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange:   getenv("AMQP_EXCHANGE", "telemetry.samples"),
			RoutingKey: getenv("AMQP_ROUTING_KEY", "sample"),
		},
		Export: ExportConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_EXPORT_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_EXPORT_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_EXPORT_INTERVAL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OtelProtocol:      otlpProtocol(),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// otlpProtocol prefers the traces-specific variable over the generic one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	return strings.ToLower(strings.TrimSpace(protocol))
}

func normalizeLockBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case LockBackendRedis:
		return LockBackendRedis
	default:
		return LockBackendMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
