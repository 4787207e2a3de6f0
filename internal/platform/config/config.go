package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Addr             string
	DatabaseURL      string
	StoreBackend     string
	FixtureFile      string
	JWTSecret        string
	Environment      string
	PolicyFile       string
	BatchConcurrency int
	EmailFrom        string
	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	SMTPUseTLS       bool
	RunMigrations    bool
	MaxBodyBytes     int64
	RequestTimeout   time.Duration
	RateLimitPerMin  int
	MetricsEnabled   bool
	OTelExporter     string
	OTelEndpoint     string
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv load failed", "err", err)
	}
	return Config{
		Addr:             getEnv("APP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		FixtureFile:      getEnv("MEMORY_FIXTURE_FILE", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		Environment:      getEnv("APP_ENV", "development"),
		PolicyFile:       getEnv("REVIEW_POLICY_FILE", ""),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 8),
		EmailFrom:        getEnv("EMAIL_FROM", "no-reply@example.com"),
		EmailEnabled:     getEnvBool("EMAIL_ENABLED", false),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPUser:         getEnv("SMTP_USER", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:       getEnvBool("SMTP_USE_TLS", true),
		RunMigrations:    getEnvBool("RUN_MIGRATIONS", true),
		MaxBodyBytes:     int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		MetricsEnabled:   getEnvBool("METRICS_ENABLED", true),
		OTelExporter:     strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTelEndpoint:     getEnv("OTEL_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreBackendMemory:
		if c.Environment == "production" {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q", StoreBackendPostgres, StoreBackendMemory)
	}
	if c.Environment == "production" && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.FixtureFile != "" && c.StoreBackend != StoreBackendMemory {
		return fmt.Errorf("MEMORY_FIXTURE_FILE requires STORE_BACKEND=memory")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if c.EmailEnabled && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST must be set when EMAIL_ENABLED is true")
	}
	switch c.OTelExporter {
	case "", "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("OTEL_EXPORTER must be one of none, stdout, otlphttp")
	}
	return nil
}
