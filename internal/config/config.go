// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr      string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Database (empty: in-memory store)
	DatabaseURL string

	// Auth
	JWTSecret string

	// OIDC (optional)
	OIDCIssuerURL string
	OIDCClientID  string

	// Download links. With S3_BUCKET set, links are presigned S3 URLs;
	// otherwise they are built from DownloadBaseURL.
	DownloadBaseURL    string
	DownloadURLTTL     time.Duration
	DownloadLinkSecret string // defaults to JWTSecret

	// S3 storage
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UsePathStyle bool

	// Redis download counters (empty: in-memory)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Snapshot cache
	CacheSize       int
	CacheTTL        time.Duration
	SnapshotTimeout time.Duration
}

// Load reads an optional env file, then configuration from environment
// variables with defaults. Variables already set win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
		JWTSecret:       envOr("JWT_SECRET", ""),
		OIDCIssuerURL:   envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:    envOr("OIDC_CLIENT_ID", ""),
		DownloadBaseURL: envOr("DOWNLOAD_BASE_URL", "http://localhost:8080/blobs"),
		DownloadURLTTL:  envDuration("DOWNLOAD_URL_TTL", 15*time.Minute),
		S3Endpoint:      envOr("S3_ENDPOINT", ""),
		S3Bucket:        envOr("S3_BUCKET", ""),
		S3AccessKey:     envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:     envOr("S3_SECRET_KEY", ""),
		S3Region:        envOr("S3_REGION", "us-east-1"),
		S3UsePathStyle:  envBool("S3_USE_PATH_STYLE", true),
		RedisAddr:       envOr("REDIS_ADDR", ""),
		RedisPassword:   envOr("REDIS_PASSWORD", ""),
		RedisDB:         envInt("REDIS_DB", 0),
		CacheSize:       envInt("CACHE_SIZE", 128),
		CacheTTL:        envDuration("CACHE_TTL", 30*time.Second),
		SnapshotTimeout: envDuration("SNAPSHOT_TIMEOUT", 30*time.Second),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	cfg.DownloadLinkSecret = envOr("DOWNLOAD_LINK_SECRET", cfg.JWTSecret)
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID == "" {
		return nil, fmt.Errorf("OIDC_CLIENT_ID is required when OIDC_ISSUER_URL is set")
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("CACHE_SIZE must be positive, got %d", cfg.CacheSize)
	}

	return cfg, nil
}

// UseS3 reports whether download links are presigned against S3.
func (c *Config) UseS3() bool {
	return c.S3Bucket != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
