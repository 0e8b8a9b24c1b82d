package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	SandboxProcess = "process"
	SandboxDocker  = "docker"
)

// Config holds all configuration for the Executor service.
type Config struct {
	// Service addresses
	GRPCPort   string
	HTTPPort   string
	HealthPort string
	NatsURL    string

	EnableEventBus bool

	// Storage
	SnapshotDatabaseURL  string
	WordPressDSN         string
	WordPressTablePrefix string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	MongoURI             string
	MongoDatabase        string

	BackupDir     string
	CustomCodeDir string

	// Code execution
	WordPressPath    string // directory holding wp-load.php; empty runs plain PHP
	PHPBinary        string
	ExecutionSandbox string
	SandboxImage     string
	ExecutionTimeout int // seconds
	MaxOutputBytes   int
	SnippetsAPIURL   string
	SnippetsAPIToken string

	// Snapshot retention
	SnapshotRetentionDays int
	SnapshotMaxSizeMB     int

	BatchStopOnFailure bool

	LogMode string
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := FromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		GRPCPort:   getEnvOrDefault("GRPC_PORT", "50052"),
		HTTPPort:   getEnvOrDefault("HTTP_PORT", "8084"),
		HealthPort: getEnvOrDefault("HEALTH_PORT", "8082"),
		NatsURL:    getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		EnableEventBus: parseBoolOrDefault("ENABLE_EVENTBUS", true),

		SnapshotDatabaseURL:  getEnvOrDefault("SNAPSHOT_DATABASE_URL", "postgres://localhost:5432/sitepilot"),
		WordPressDSN:         getEnvOrDefault("WORDPRESS_DSN", "root:@tcp(localhost:3306)/wordpress?parseTime=true"),
		WordPressTablePrefix: getEnvOrDefault("WORDPRESS_TABLE_PREFIX", "wp_"),
		RedisAddr:            getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              parseIntOrDefault("REDIS_DB", 0),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDatabase:        getEnvOrDefault("MONGO_DATABASE", "sitepilot"),

		BackupDir:     getEnvOrDefault("BACKUP_DIR", "./backups"),
		CustomCodeDir: getEnvOrDefault("CUSTOM_CODE_DIR", "./custom-code"),

		WordPressPath:    os.Getenv("WORDPRESS_PATH"),
		PHPBinary:        getEnvOrDefault("PHP_BINARY", "php"),
		ExecutionSandbox: getEnvOrDefault("EXECUTION_SANDBOX", SandboxProcess),
		SandboxImage:     getEnvOrDefault("SANDBOX_IMAGE", "php:8.3-cli"),
		ExecutionTimeout: parseIntOrDefault("EXECUTION_TIMEOUT_SECONDS", 60),
		MaxOutputBytes:   parseIntOrDefault("MAX_OUTPUT_BYTES", 64*1024),
		SnippetsAPIURL:   os.Getenv("SNIPPETS_API_URL"),
		SnippetsAPIToken: os.Getenv("SNIPPETS_API_TOKEN"),

		SnapshotRetentionDays: parseIntOrDefault("SNAPSHOT_RETENTION_DAYS", 30),
		SnapshotMaxSizeMB:     parseIntOrDefault("SNAPSHOT_MAX_SIZE_MB", 100),

		BatchStopOnFailure: parseBoolOrDefault("BATCH_STOP_ON_FAILURE", true),

		LogMode: getEnvOrDefault("LOG_MODE", "development"),
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT is required")
	}

	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}

	if c.SnapshotDatabaseURL == "" {
		return fmt.Errorf("SNAPSHOT_DATABASE_URL is required")
	}

	if c.WordPressDSN == "" {
		return fmt.Errorf("WORDPRESS_DSN is required")
	}

	if c.BackupDir == "" {
		return fmt.Errorf("BACKUP_DIR is required")
	}

	if c.ExecutionTimeout < 1 {
		return fmt.Errorf("EXECUTION_TIMEOUT_SECONDS must be at least 1")
	}

	if c.SnapshotRetentionDays < 1 {
		return fmt.Errorf("SNAPSHOT_RETENTION_DAYS must be at least 1")
	}

	if c.SnapshotMaxSizeMB < 1 {
		return fmt.Errorf("SNAPSHOT_MAX_SIZE_MB must be at least 1")
	}

	switch c.ExecutionSandbox {
	case SandboxProcess, SandboxDocker:
	default:
		return fmt.Errorf("EXECUTION_SANDBOX must be %q or %q, got %q", SandboxProcess, SandboxDocker, c.ExecutionSandbox)
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
