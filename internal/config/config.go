package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNodeID int64

	OTLPEndpoint string

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
	DBSlowQueryMs     int
	DBLedgerSlowMs    int

	Redis       RedisConfig
	Stripe      StripeConfig
	Checkout    CheckoutConfig
	Scheduler   SchedulerConfig
	MetricsPush MetricsPushConfig
}

// RedisConfig configures the optional webhook delivery lock.
type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	LockTTLSeconds int
}

type StripeConfig struct {
	SecretKey               string
	WebhookSecret           string
	WebhookToleranceSeconds int64
}

type CheckoutConfig struct {
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
}

// SchedulerConfig drives the background commission reconciliation.
type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
}

// MetricsPushConfig ships ledger gauges to a Prometheus remote_write
// endpoint or a Pushgateway. An empty exporter disables pushing.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "roteiro"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		SnowflakeNodeID:   getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "roteiro"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "roteiro.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBSlowQueryMs:     getenvInt("DATABASE_SLOW_QUERY_MS", 200),
		DBLedgerSlowMs:    getenvInt("DATABASE_LEDGER_SLOW_QUERY_MS", 100),
		Redis: RedisConfig{
			Enabled:        getenvBool("REDIS_ENABLED", false),
			Addr:           strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password:       strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:             getenvInt("REDIS_DB", 0),
			LockTTLSeconds: getenvInt("WEBHOOK_LOCK_TTL_SECONDS", 30),
		},
		Stripe: StripeConfig{
			SecretKey:               strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:           strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookToleranceSeconds: getenvInt64("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		},
		Checkout: CheckoutConfig{
			SuccessURL:      strings.TrimSpace(getenv("CHECKOUT_SUCCESS_URL", "")),
			CancelURL:       strings.TrimSpace(getenv("CHECKOUT_CANCEL_URL", "")),
			DefaultCurrency: strings.ToLower(getenv("DEFAULT_CURRENCY", "brl")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 300),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 100),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
