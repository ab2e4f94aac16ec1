package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultChunkSize is the shared chunk size constant (2 MiB). Client and
// server must agree on it out of band since chunk index arithmetic depends
// on it.
const DefaultChunkSize int64 = 2 * 1024 * 1024

// Config holds all application configuration
type Config struct {
	Port               string
	DBBackend          string // "sqlite" or "postgres"
	DBPath             string // sqlite database file
	PostgresDSN        string // postgres connection string (DB_BACKEND=postgres)
	StagingDir         string // staged chunk files live here
	ArchiveDir         string // assembled artifacts (filesystem backend)
	ArchiveBackend     string // "filesystem" or "s3"
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // optional, for S3-compatible stores
	ChunkSize          int64
	MaxFileSize        int64
	DefaultPageSize    int
	MaxPageSize        int
	CleanupIntervalMin int
	StaleUploadHours   int // incomplete uploads idle longer than this are reclaimed
	ShutdownTimeoutSec int

	// DefaultUploaderID and DefaultFleetID apply when the gateway forwards no
	// identity headers, covering single-tenant deployments.
	DefaultUploaderID int64
	DefaultFleetID    int64
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBBackend:          getEnv("DB_BACKEND", "sqlite"),
		DBPath:             getEnv("DB_PATH", "./airlift.db"),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		StagingDir:         getEnv("STAGING_DIR", "./staging"),
		ArchiveDir:         getEnv("ARCHIVE_DIR", "./archives"),
		ArchiveBackend:     getEnv("ARCHIVE_BACKEND", "filesystem"),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		ChunkSize:          getEnvInt64("CHUNK_SIZE", DefaultChunkSize),
		MaxFileSize:        getEnvInt64("MAX_FILE_SIZE", 4*1024*1024*1024), // 4GB default
		DefaultPageSize:    getEnvInt("DEFAULT_PAGE_SIZE", 10),
		MaxPageSize:        getEnvInt("MAX_PAGE_SIZE", 100),
		CleanupIntervalMin: getEnvInt("CLEANUP_INTERVAL_MINUTES", 60),
		StaleUploadHours:   getEnvInt("STALE_UPLOAD_HOURS", 168), // 7 days
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		DefaultUploaderID:  getEnvInt64("DEFAULT_UPLOADER_ID", 1),
		DefaultFleetID:     getEnvInt64("DEFAULT_FLEET_ID", 1),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.DBBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("DB_BACKEND must be 'sqlite' or 'postgres', got %q", c.DBBackend)
	}

	if c.StagingDir == "" {
		return fmt.Errorf("STAGING_DIR cannot be empty")
	}

	switch c.ArchiveBackend {
	case "filesystem":
		if c.ArchiveDir == "" {
			return fmt.Errorf("ARCHIVE_DIR cannot be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARCHIVE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("ARCHIVE_BACKEND must be 'filesystem' or 's3', got %q", c.ArchiveBackend)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}

	if c.MaxFileSize < c.ChunkSize {
		return fmt.Errorf("MAX_FILE_SIZE (%d) cannot be smaller than CHUNK_SIZE (%d)", c.MaxFileSize, c.ChunkSize)
	}

	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}

	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE (%d) cannot exceed MAX_PAGE_SIZE (%d)", c.DefaultPageSize, c.MaxPageSize)
	}

	if c.CleanupIntervalMin <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL_MINUTES must be positive, got %d", c.CleanupIntervalMin)
	}

	if c.StaleUploadHours <= 0 {
		return fmt.Errorf("STALE_UPLOAD_HOURS must be positive, got %d", c.StaleUploadHours)
	}

	return nil
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}

	return parsed
}

// getEnvInt64 returns the environment variable as int64 or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return defaultValue
	}

	return parsed
}
