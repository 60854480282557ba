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
	HTTPAddr    string
	LogLevel    string

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

	Gateway GatewayConfig
	Orders  OrderConfig
}

// GatewayConfig configures the external payment gateway client.
type GatewayConfig struct {
	ServerKey    string
	ClientKey    string
	IsProduction bool
	BaseURL      string
	PaymentBase  string
	HTTPTimeout  time.Duration
	MaxRetries   int
}

// OrderConfig holds order lifecycle knobs.
type OrderConfig struct {
	ExpiryHorizon   time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	RateLimitTokens int
	RateLimitWindow time.Duration
	APIRateLimit    float64
	APIRateBurst    int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "bookvault"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":3003"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "bookvault"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Gateway: GatewayConfig{
			ServerKey:    strings.TrimSpace(getenv("GATEWAY_SERVER_KEY", "")),
			ClientKey:    strings.TrimSpace(getenv("GATEWAY_CLIENT_KEY", "")),
			IsProduction: getenvBool("GATEWAY_IS_PRODUCTION", false),
			BaseURL:      getenv("GATEWAY_BASE_URL", ""),
			PaymentBase:  getenv("GATEWAY_PAYMENT_BASE", ""),
			HTTPTimeout:  getenvDuration("GATEWAY_HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:   getenvInt("GATEWAY_MAX_RETRIES", 3),
		},
		Orders: OrderConfig{
			ExpiryHorizon:   getenvDuration("ORDER_EXPIRY_HORIZON", 24*time.Hour),
			SweepInterval:   getenvDuration("ORDER_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:  getenvInt("ORDER_SWEEP_BATCH_SIZE", 100),
			RateLimitTokens: getenvInt("ORDER_RATE_LIMIT_TOKENS", 10),
			RateLimitWindow: getenvDuration("ORDER_RATE_LIMIT_WINDOW", time.Hour),
			APIRateLimit:    getenvFloat("API_RATE_LIMIT", 100.0/60.0),
			APIRateBurst:    getenvInt("API_RATE_BURST", 100),
		},
	}

	return cfg
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
