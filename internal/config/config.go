package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReplayTuningHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Telemetry TelemetryConfig

	// StoreBackend selects the order store and tenant registry backend: memory or sql.
	StoreBackend string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	StoreRetryAttempts int
	StoreRetryInitial  time.Duration
	StoreRetryMax      time.Duration

	TenantCacheTTL    time.Duration
	DefaultTaxRateBps int64

	Replay ReplayConfig

	EventLogRetention time.Duration
	SweepInterval     time.Duration

	Relay RelayConfig

	RateLimit RateLimitConfig
}

// TelemetryConfig feeds the logger, tracer and OTLP meter provider.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64
}

// ReplayConfig bounds the per-topic replay buffer and per-connection queues.
type ReplayConfig struct {
	MaxEvents       int           `mapstructure:"maxEvents"`
	Window          time.Duration `mapstructure:"window"`
	SubscriberQueue int           `mapstructure:"subscriberQueue"`
}

type RelayConfig struct {
	BufferSize int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	AMQPURL      string
	AMQPExchange string
}

func (r RelayConfig) RedisEnabled() bool {
	return r.RedisAddr != ""
}

func (r RelayConfig) AMQPEnabled() bool {
	return r.AMQPURL != ""
}

// RateLimitConfig throttles order intake per tenant and per tenant channel.
// IdempotencyTTL bounds how long an Idempotency-Key is remembered.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TenantRate     float64
	TenantBurst    int
	ChannelRate    float64
	ChannelBurst   int
	IdempotencyTTL time.Duration
}

const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "waiterless"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		StoreBackend:      normalizeBackend(getenv("STORE_BACKEND", BackendMemory)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "waiterless"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		StoreRetryAttempts: int(getenvInt64("STORE_RETRY_ATTEMPTS", 4)),
		StoreRetryInitial:  getenvDuration("STORE_RETRY_INITIAL", 25*time.Millisecond),
		StoreRetryMax:      getenvDuration("STORE_RETRY_MAX", 500*time.Millisecond),

		TenantCacheTTL:    getenvDuration("TENANT_CACHE_TTL", 30*time.Second),
		DefaultTaxRateBps: getenvInt64("DEFAULT_TAX_RATE_BPS", 800),

		Telemetry: TelemetryConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		Replay: ReplayConfig{
			MaxEvents:       int(getenvInt64("REPLAY_MAX_EVENTS", 256)),
			Window:          getenvDuration("REPLAY_WINDOW", 10*time.Minute),
			SubscriberQueue: int(getenvInt64("SUBSCRIBER_QUEUE", 64)),
		},

		EventLogRetention: getenvDuration("EVENT_LOG_RETENTION", 72*time.Hour),
		SweepInterval:     getenvDuration("SWEEP_INTERVAL", 30*time.Second),

		Relay: RelayConfig{
			BufferSize:    int(getenvInt64("RELAY_BUFFER", 1024)),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("REDIS_DB", 0)),
			RedisPrefix:   getenv("REDIS_CHANNEL_PREFIX", "waiterless"),
			AMQPURL:       strings.TrimSpace(getenv("AMQP_URL", "")),
			AMQPExchange:  getenv("AMQP_EXCHANGE", "waiterless.events"),
		},

		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", getenv("REDIS_ADDR", ""))),
			RedisPassword:  getenv("RATE_LIMIT_REDIS_PASSWORD", getenv("REDIS_PASSWORD", "")),
			RedisDB:        int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			TenantRate:     getenvFloat("RATE_LIMIT_TENANT_RATE", 20),
			TenantBurst:    int(getenvInt64("RATE_LIMIT_TENANT_BURST", 60)),
			ChannelRate:    getenvFloat("RATE_LIMIT_CHANNEL_RATE", 10),
			ChannelBurst:   int(getenvInt64("RATE_LIMIT_CHANNEL_BURST", 30)),
			IdempotencyTTL: getenvDuration("RATE_LIMIT_IDEMPOTENCY_TTL", 10*time.Minute),
		},
	}

	if env := strings.TrimSpace(os.Getenv("DEPLOYMENT_ENV")); env != "" {
		cfg.Environment = env
	}
	if proto := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); proto != "" {
		cfg.Telemetry.OTLPProtocol = strings.ToLower(proto)
	}

	return cfg
}

// DevEnvironment reports whether verbose logging and stack traces are wanted.
func (c Config) DevEnvironment() bool {
	if c.Telemetry.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) UsesSQL() bool {
	return c.StoreBackend == BackendSQL
}

func normalizeBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case BackendSQL, "postgres", "mysql", "sqlite", "gorm":
		return BackendSQL
	default:
		return BackendMemory
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
