package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver     string
	DatabasePath string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	CatalogBaseURL string
	CatalogAPIKey  string
	CatalogTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	QuotaLowWater  int
	QuotaPause     time.Duration
	PacingEvery    int
	PacingPause    time.Duration
	PartitionDelay time.Duration
	SearchPageSize int
	MaxConcurrency int
	RateLimitMs    int

	AnthropicAPIKey  string
	AnthropicBaseURL string
	TextModel        string
	OneLinerMaxLen   int
	BackfillDelay    time.Duration
	SkipEnrichment   bool

	LogLevel    string
	LogFormat   string
	MetricsAddr string

	CSVOutputPath string
	ChromeBin     string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabasePath: getEnv("DATABASE_PATH", "./data/tourgraph.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "tourgraph"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "tourgraph"),
		PostgresDB:       getEnv("POSTGRES_DB", "tourgraph"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		CatalogBaseURL: getEnv("CATALOG_BASE_URL", "https://api.viator.com/partner"),
		CatalogAPIKey:  getEnv("CATALOG_API_KEY", ""),
		CatalogTimeout: getEnvDuration("CATALOG_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
		QuotaLowWater:  getEnvInt("QUOTA_LOW_WATER", 10),
		QuotaPause:     getEnvDuration("QUOTA_PAUSE", 2*time.Second),
		PacingEvery:    getEnvInt("PACING_EVERY", 50),
		PacingPause:    getEnvDuration("PACING_PAUSE", time.Second),
		PartitionDelay: getEnvDuration("PARTITION_DELAY", 500*time.Millisecond),
		SearchPageSize: getEnvInt("SEARCH_PAGE_SIZE", 50),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		TextModel:        getEnv("TEXT_MODEL", "claude-haiku-4-5"),
		OneLinerMaxLen:   getEnvInt("ONE_LINER_MAX_LEN", 120),
		BackfillDelay:    getEnvDuration("BACKFILL_DELAY", 200*time.Millisecond),
		SkipEnrichment:   getEnvBool("SKIP_ENRICHMENT", false),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
		ChromeBin:     getEnv("CHROME_BIN", ""),
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.SearchPageSize <= 0 {
		return fmt.Errorf("config: SEARCH_PAGE_SIZE must be positive, got %d", c.SearchPageSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency)
	}
	if c.OneLinerMaxLen <= 3 {
		return fmt.Errorf("config: ONE_LINER_MAX_LEN must exceed 3, got %d", c.OneLinerMaxLen)
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == DriverPostgres {
		return "host=" + c.PostgresHost +
			" port=" + c.PostgresPort +
			" user=" + c.PostgresUser +
			" password=" + c.PostgresPassword +
			" dbname=" + c.PostgresDB +
			" sslmode=" + c.PostgresSSLMode
	}
	return "file:" + c.DatabasePath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
