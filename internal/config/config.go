package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	ShutdownTimeout    time.Duration
	SecurityHSTS       bool

	// CatalogPath is the JSON catalog file loaded at startup and on reload.
	CatalogPath   string
	CatalogStrict bool
	PreviewMaxQty int

	// RedisURL is optional. Without it preview and report caching, job
	// results, rate limiting and the background queue are disabled.
	RedisURL        string
	PreviewCacheTTL time.Duration
	ReportCacheTTL  time.Duration
	ReportTimezone  *time.Location
	// ReportMaxBuckets caps the periods in one margin report.
	ReportMaxBuckets int

	CostingConcurrency int
	CostingQueue       string
	WorkerConcurrency  int
	JobResultTTL       time.Duration
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration
	IdempotencyTTL     time.Duration

	// PreviewRateLimit uses the "<limit>-<period>" format, e.g. "600-M".
	// Empty disables limiting.
	PreviewRateLimit      string
	JobRateLimitPerMinute int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	tz := valueOrDefault(k.String("REPORT_TIMEZONE"), "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:       int64(parseInt(k.String("MAX_BODY_BYTES"), 4<<20)),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		SecurityHSTS:       parseBool(k.String("SECURITY_HSTS")),

		CatalogPath:   strings.TrimSpace(k.String("CATALOG_PATH")),
		CatalogStrict: parseBool(k.String("CATALOG_STRICT")),
		PreviewMaxQty: parseInt(k.String("PREVIEW_MAX_QTY"), 10000),

		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		PreviewCacheTTL: parseDuration(k.String("PREVIEW_CACHE_TTL"), "5m"),
		ReportCacheTTL:  parseDuration(k.String("REPORT_CACHE_TTL"), "10m"),
		ReportTimezone:  loc,

		ReportMaxBuckets: parseInt(k.String("REPORT_MAX_BUCKETS"), 366),

		CostingConcurrency: parseInt(k.String("COSTING_CONCURRENCY"), 4),
		CostingQueue:       valueOrDefault(k.String("COSTING_QUEUE"), "costing"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
		JobResultTTL:       parseDuration(k.String("JOB_RESULT_TTL"), "24h"),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "10m"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "200ms"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		PreviewRateLimit:      strings.TrimSpace(k.String("PREVIEW_RATE_LIMIT")),
		JobRateLimitPerMinute: parseInt(k.String("JOB_RATE_LIMIT_PER_MINUTE"), 30),
	}

	if cfg.CatalogPath == "" {
		return nil, errors.New("CATALOG_PATH is required")
	}
	if cfg.CostingConcurrency <= 0 {
		return nil, errors.New("COSTING_CONCURRENCY must be positive")
	}
	if cfg.ReportMaxBuckets <= 0 {
		return nil, errors.New("REPORT_MAX_BUCKETS must be positive")
	}
	if cfg.WorkerConcurrency <= 0 {
		return nil, errors.New("WORKER_CONCURRENCY must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// RedisEnabled reports whether a Redis URL was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
