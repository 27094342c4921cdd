// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for the cache database and CSV files (always absolute)
	Port           int
	LogLevel       string
	DevMode        bool
	PeriodsPerYear int

	// Default dataset served to the scheduler and the dashboard.
	DefaultSource  string
	DefaultTickers []string
	DefaultStart   time.Time
	DefaultEnd     time.Time
	DatasetTTL     time.Duration
	YahooBaseURL   string

	Cache   CacheConfig
	Archive ArchiveConfig

	RefreshSchedule     string // cron expression with seconds
	CleanupSchedule     string
	MaintenanceSchedule string
}

// CacheConfig selects the dataset cache backend.
type CacheConfig struct {
	Backend       string // sqlite or redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string
}

// ArchiveConfig holds S3-compatible archive settings. An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	OnFetch         bool
	RetentionDays   int // 0 keeps archives forever
}

// Enabled reports whether a bucket is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

const dateLayout = "2006-01-02"

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	start, err := getEnvAsDate("DEFAULT_START", "2020-01-01")
	if err != nil {
		return nil, err
	}
	end, err := getEnvAsDate("DEFAULT_END", "2023-01-01")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("GO_PORT", 8001),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		PeriodsPerYear:      getEnvAsInt("PERIODS_PER_YEAR", 252),
		DefaultSource:       getEnv("DEFAULT_SOURCE", "yahoo"),
		DefaultTickers:      getEnvAsList("DEFAULT_TICKERS", []string{"SPY", "TLT", "EEM", "VNQ", "GLD"}),
		DefaultStart:        start,
		DefaultEnd:          end,
		DatasetTTL:          getEnvAsDuration("DATASET_TTL", 24*time.Hour),
		YahooBaseURL:        getEnv("YAHOO_BASE_URL", ""),
		RefreshSchedule:     getEnv("REFRESH_SCHEDULE", "0 30 22 * * 1-5"),
		CleanupSchedule:     getEnv("CLEANUP_SCHEDULE", "0 0 3 * * *"),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnv("CACHE_BACKEND", "sqlite")),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			Namespace:     getEnv("REDIS_NAMESPACE", "frontier"),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "datasets"),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			OnFetch:         getEnvAsBool("ARCHIVE_ON_FETCH", false),
			RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 90),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CachePath is the SQLite dataset cache location.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("PERIODS_PER_YEAR must be positive, got %d", c.PeriodsPerYear)
	}
	if len(c.DefaultTickers) == 0 {
		return fmt.Errorf("DEFAULT_TICKERS must name at least one ticker")
	}
	if !c.DefaultStart.Before(c.DefaultEnd) {
		return fmt.Errorf("DEFAULT_START %s must be before DEFAULT_END %s",
			c.DefaultStart.Format(dateLayout), c.DefaultEnd.Format(dateLayout))
	}
	if c.DatasetTTL <= 0 {
		return fmt.Errorf("DATASET_TTL must be positive")
	}
	switch c.Cache.Backend {
	case "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be sqlite or redis, got %q", c.Cache.Backend)
	}
	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("ARCHIVE_RETENTION_DAYS must not be negative")
	}
	if c.Archive.Enabled() && (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsDate(key, defaultValue string) (time.Time, error) {
	value := getEnv(key, defaultValue)
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a YYYY-MM-DD date, got %q", key, value)
	}
	return t, nil
}
