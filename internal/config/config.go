package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Webhook WebhookConfig

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	OTLPEndpoint string
}

// WebhookConfig carries per-provider webhook verification settings.
type WebhookConfig struct {
	// VerifyToken answers provider URL-ownership challenges (hub.verify_token).
	VerifyToken string

	// RequireSecret switches verification from fail-open to fail-closed when a
	// provider has no configured secret.
	RequireSecret bool

	GupshupSecret  string
	MetaAppSecret  string
	TwilioToken    string
	GenericToken   string
	RateLimitRate  float64
	RateLimitBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "kirimaja"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "kirimaja"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Webhook: WebhookConfig{
			VerifyToken:    strings.TrimSpace(getenv("WEBHOOK_VERIFY_TOKEN", "")),
			RequireSecret:  getenvBool("WEBHOOK_REQUIRE_SECRET", false),
			GupshupSecret:  strings.TrimSpace(getenv("GUPSHUP_WEBHOOK_SECRET", "")),
			MetaAppSecret:  strings.TrimSpace(getenv("META_APP_SECRET", "")),
			TwilioToken:    strings.TrimSpace(getenv("TWILIO_AUTH_TOKEN", "")),
			GenericToken:   strings.TrimSpace(getenv("WABA_BEARER_TOKEN", "")),
			RateLimitRate:  getenvFloat("WEBHOOK_RATE_LIMIT_RATE", 50),
			RateLimitBurst: getenvInt("WEBHOOK_RATE_LIMIT_BURST", 100),
		},

		SchedulerEnabled:  getenvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReconciliationConfigHolder),
)

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
