package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PoolConfig describes the bounded database connection pool.
// Defaults mirror the production engine settings: a small baseline with room
// for bursts, a bounded acquire wait, and hourly connection recycling.
type PoolConfig struct {
	Size           int
	MaxOverflow    int
	AcquireTimeout time.Duration
	ConnTTL        time.Duration
}

// Capacity is the hard cap on live connections: baseline plus overflow.
func (p PoolConfig) Capacity() int {
	return p.Size + p.MaxOverflow
}

// Validate checks the pool sizing invariants.
func (p PoolConfig) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", p.Size)
	}
	if p.MaxOverflow < 0 {
		return fmt.Errorf("pool max overflow must be non-negative, got %d", p.MaxOverflow)
	}
	if p.AcquireTimeout <= 0 {
		return fmt.Errorf("pool acquire timeout must be positive, got %s", p.AcquireTimeout)
	}
	return nil
}

// S3Config holds remote-tier object storage settings (S3-compatible).
// The remote tier is optional: when any required value is absent the tier is
// treated as unconfigured and remote operations report unavailability instead
// of failing hard.
type S3Config struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
}

// Configured reports whether all values required to reach the remote tier are set.
func (s S3Config) Configured() bool {
	return s.AccessKey != "" && s.SecretKey != "" && s.Bucket != "" && s.Endpoint != ""
}

// OpenRouterConfig holds settings for the external completion API.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Configured reports whether the completion API can be called.
func (o OpenRouterConfig) Configured() bool {
	return o.APIKey != ""
}

// AppConfig is the centralized configuration struct for the application.
// It is populated once from environment variables at process start and is
// immutable thereafter; no component performs ambient environment lookups.
type AppConfig struct {
	AppHost     string
	Port        string
	DatabaseURL string
	Pool        PoolConfig
	UploadDir   string
	S3          S3Config
	OpenRouter  OpenRouterConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:     getEnv("APP_HOST", "localhost:8080"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: NormalizeDatabaseURL(getEnv("DATABASE_URL", "postgres://localhost:5432/oppcore?sslmode=disable")),
		Pool: PoolConfig{
			Size:           getEnvInt("POOL_SIZE", 5),
			MaxOverflow:    getEnvInt("POOL_MAX_OVERFLOW", 10),
			AcquireTimeout: getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
			ConnTTL:        getEnvDuration("POOL_CONN_TTL", time.Hour),
		},
		UploadDir: getEnv("UPLOAD_DIR", "static/uploads"),
		S3: S3Config{
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT_URL", ""),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:  getEnv("OPENROUTER_API_KEY", ""),
			BaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
	}
}

// NormalizeDatabaseURL rewrites legacy async-driver connection strings to the
// plain postgres scheme expected by the sync driver. Hosted deployments hand
// out URLs of the form postgresql+asyncpg://... and those servers require TLS,
// so sslmode=require is appended when no sslmode is present.
func NormalizeDatabaseURL(raw string) string {
	for _, prefix := range []string{"postgresql+asyncpg://", "postgres+asyncpg://"} {
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		raw = "postgres://" + strings.TrimPrefix(raw, prefix)
		if !strings.Contains(raw, "sslmode=") {
			if strings.Contains(raw, "?") {
				raw += "&sslmode=require"
			} else {
				raw += "?sslmode=require"
			}
		}
		return raw
	}
	return raw
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		// Accept Go duration strings ("30s") and bare seconds ("30").
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
