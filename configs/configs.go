// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DatabaseURL is the Postgres connection string for the catalog and price ledger.
	DatabaseURL string

	// ClickHouseDSN enables the analytics archive when set.
	ClickHouseDSN string

	// StoresFile is the path of the YAML store catalog.
	StoresFile string

	// LogLevel is a logrus level name.
	LogLevel string

	Kafka    KafkaConfig
	Telegram TelegramConfig
	Fetch    FetchConfig
	Scrape   ScrapeConfig
	Notify   NotifyConfig
	API      APIConfig
}

// KafkaConfig holds Kafka connection settings for price drop events.
type KafkaConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092"). Empty disables Kafka.
	Broker string

	// Topic carries price drop events from notify_price_drops to telegram_bot.
	Topic string

	// GroupID is the consumer group of the Telegram bot.
	GroupID string
}

// TelegramConfig holds the bot credentials.
type TelegramConfig struct {
	Token string
}

// FetchConfig tunes how store pages are requested.
type FetchConfig struct {
	// MaxAttempts is the retry ceiling per page.
	MaxAttempts int

	// BaseDelay and MaxDelay bound the exponential backoff between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MinInterval is the minimum delay between two requests. Zero disables it.
	MinInterval time.Duration

	// Timeout bounds a single request.
	Timeout time.Duration

	// BreakerThreshold is the number of exhausted fetches that opens the circuit.
	BreakerThreshold int

	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Render switches HTML stores to a headless browser page source.
	Render bool
}

// ScrapeConfig holds orchestrator settings.
type ScrapeConfig struct {
	// Workers bounds the number of categories fetched concurrently.
	Workers int
}

// NotifyConfig holds settings for the price drop trigger.
type NotifyConfig struct {
	// Interval is the daemon check period.
	Interval time.Duration

	// Overlap is subtracted from the watermark on each scan to tolerate commit lag.
	Overlap time.Duration

	// Lookback bounds the first scan when no watermark exists yet.
	Lookback time.Duration
}

// APIConfig holds settings for the read-only ops API.
type APIConfig struct {
	Port string
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		DatabaseURL:   getDatabaseURL(),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		StoresFile:    getEnv("STORES_FILE", "configs/stores.yaml"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Kafka: KafkaConfig{
			Broker:  getEnv("KAFKA_BROKER", ""),
			Topic:   getEnv("KAFKA_DROPS_TOPIC", "pricio_price_drops"),
			GroupID: getEnv("KAFKA_GROUP_ID", "pricio-telegram-bot"),
		},
		Telegram: TelegramConfig{
			Token: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Fetch: FetchConfig{
			MaxAttempts:      getEnvInt("FETCH_MAX_ATTEMPTS", 4),
			BaseDelay:        getEnvDuration("FETCH_BASE_DELAY_MS", 500*time.Millisecond, time.Millisecond),
			MaxDelay:         getEnvDuration("FETCH_MAX_DELAY_MS", 15*time.Second, time.Millisecond),
			MinInterval:      getEnvDuration("FETCH_MIN_INTERVAL_MS", time.Second, time.Millisecond),
			Timeout:          getEnvDuration("FETCH_TIMEOUT_SECONDS", 20*time.Second, time.Second),
			BreakerThreshold: getEnvInt("FETCH_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvDuration("FETCH_BREAKER_COOLDOWN_SECONDS", time.Minute, time.Second),
			UserAgent: getEnv("FETCH_USER_AGENT",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Render: getEnvBool("BROWSER_RENDER", false),
		},
		Scrape: ScrapeConfig{
			Workers: getEnvInt("SCRAPE_WORKERS", 3),
		},
		Notify: NotifyConfig{
			Interval: getEnvDuration("NOTIFY_INTERVAL_SECONDS", time.Hour, time.Second),
			Overlap:  getEnvDuration("NOTIFY_OVERLAP_SECONDS", 10*time.Minute, time.Second),
			Lookback: getEnvDuration("NOTIFY_LOOKBACK_SECONDS", 24*time.Hour, time.Second),
		},
		API: APIConfig{
			Port: getEnv("API_PORT", "8080"),
		},
	}
}

// getDatabaseURL returns DATABASE_URL or builds one from the POSTGRES_* variables.
func getDatabaseURL() string {
	if url := getEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("POSTGRES_USER", "pricio"),
		getEnv("POSTGRES_PASSWORD", "pricio"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "pricio"),
	)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration reads an integer count of unit. Negative values fall back to the default.
func getEnvDuration(key string, defaultValue, unit time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return defaultValue
	}
	return time.Duration(n) * unit
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
