// Package config provides centralized configuration management for castkeep.
// Configuration is loaded from environment variables (with optional .env file
// support) with sensible defaults. Required configuration that is missing
// causes the application to fail fast with helpful error messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port      int
	LogLevel  string
	LogFormat string

	// Storage configuration
	StorageBackend string // "local", "s3", or "remote" (alias for s3)
	RecordingsPath string // Local storage root for recordings
	TempPath       string // Directory where the ingest writes in-progress files
	CapacityBytes  int64  // Configured capacity estimate for usage reporting

	// Retention configuration
	RecordingMaxAgeHours int           // 0 = keep forever
	CleanupInterval      time.Duration // How often the retention sweep runs

	// S3 configuration
	S3Bucket          string
	S3Region          string
	S3Endpoint        string // Custom endpoint for MinIO/self-hosted S3
	S3Prefix          string // Key prefix within bucket
	S3AccessKeyID     string // Explicit credentials (optional)
	S3SecretAccessKey string
	CDNDomain         string        // When set, playback URLs use the CDN instead of presigning
	URLExpiry         time.Duration // Presigned URL lifetime

	// Platform API configuration (room and egress control)
	PlatformAPIURL    string
	PlatformAPIKey    string
	PlatformAPISecret string

	// Egress orchestration configuration
	EgressRetryDelay time.Duration // Delay before retrying participant resolution

	// Webhook endpoint configuration
	WebhookRateLimit float64 // Requests per second per IP (0 = disabled)
	WebhookBurst     int     // Maximum burst size for rate limiter
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort             = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultStorageBackend   = "local"
	DefaultRecordingsPath   = "/data/recordings"
	DefaultTempPath         = "/data/tmp"
	DefaultCapacityBytes    = int64(100 * 1024 * 1024 * 1024) // 100 GiB
	DefaultCleanupInterval  = 1 * time.Hour
	DefaultS3Region         = "us-east-1"
	DefaultS3Prefix         = "recordings/"
	DefaultURLExpiry        = 1 * time.Hour
	DefaultEgressRetryDelay = 3 * time.Second
	DefaultWebhookRateLimit = float64(10) // 10 requests/sec per IP
	DefaultWebhookBurst     = 20
)

// Load reads configuration from a .env file (if present) and environment
// variables, applies defaults for optional values, and validates the result.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             DefaultPort,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		StorageBackend:   DefaultStorageBackend,
		RecordingsPath:   DefaultRecordingsPath,
		TempPath:         DefaultTempPath,
		CapacityBytes:    DefaultCapacityBytes,
		CleanupInterval:  DefaultCleanupInterval,
		S3Region:         DefaultS3Region,
		S3Prefix:         DefaultS3Prefix,
		URLExpiry:        DefaultURLExpiry,
		EgressRetryDelay: DefaultEgressRetryDelay,
		WebhookRateLimit: DefaultWebhookRateLimit,
		WebhookBurst:     DefaultWebhookBurst,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "PORT",
				Message: fmt.Sprintf("invalid port number: %q (must be an integer)", v),
			})
		} else {
			c.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	// Storage configuration
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.StorageBackend = v
	}

	if v := os.Getenv("RECORDINGS_PATH"); v != "" {
		c.RecordingsPath = v
	}

	if v := os.Getenv("TEMP_PATH"); v != "" {
		c.TempPath = v
	}

	if v := os.Getenv("STORAGE_CAPACITY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "STORAGE_CAPACITY_BYTES",
				Message: fmt.Sprintf("invalid size: %q (must be an integer representing bytes)", v),
			})
		} else if n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "STORAGE_CAPACITY_BYTES",
				Message: fmt.Sprintf("size must be positive: %d", n),
			})
		} else {
			c.CapacityBytes = n
		}
	}

	// Retention configuration
	if v := os.Getenv("RECORDING_MAX_AGE_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "RECORDING_MAX_AGE_HOURS",
				Message: fmt.Sprintf("invalid value: %q (must be an integer)", v),
			})
		} else if n < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "RECORDING_MAX_AGE_HOURS",
				Message: fmt.Sprintf("value must be non-negative: %d", n),
			})
		} else {
			c.RecordingMaxAgeHours = n
		}
	}

	if v := os.Getenv("CLEANUP_INTERVAL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CLEANUP_INTERVAL_MINUTES",
				Message: fmt.Sprintf("invalid interval: %q (must be an integer representing minutes)", v),
			})
		} else if minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CLEANUP_INTERVAL_MINUTES",
				Message: fmt.Sprintf("interval must be positive: %d", minutes),
			})
		} else {
			c.CleanupInterval = time.Duration(minutes) * time.Minute
		}
	}

	// S3 configuration
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.S3Bucket = v
	}

	if v := os.Getenv("S3_REGION"); v != "" {
		c.S3Region = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.S3Endpoint = v
	}

	if v := os.Getenv("S3_PREFIX"); v != "" {
		c.S3Prefix = v
	}

	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		c.S3AccessKeyID = v
	}

	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		c.S3SecretAccessKey = v
	}

	if v := os.Getenv("CDN_DOMAIN"); v != "" {
		c.CDNDomain = v
	}

	if v := os.Getenv("URL_EXPIRY_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "URL_EXPIRY_SECONDS",
				Message: fmt.Sprintf("invalid expiry: %q (must be an integer representing seconds)", v),
			})
		} else if seconds <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "URL_EXPIRY_SECONDS",
				Message: fmt.Sprintf("expiry must be positive: %d", seconds),
			})
		} else {
			c.URLExpiry = time.Duration(seconds) * time.Second
		}
	}

	// Platform API configuration
	if v := os.Getenv("PLATFORM_API_URL"); v != "" {
		c.PlatformAPIURL = v
	}

	if v := os.Getenv("PLATFORM_API_KEY"); v != "" {
		c.PlatformAPIKey = v
	}

	if v := os.Getenv("PLATFORM_API_SECRET"); v != "" {
		c.PlatformAPISecret = v
	}

	// Egress orchestration configuration
	if v := os.Getenv("EGRESS_RETRY_DELAY_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "EGRESS_RETRY_DELAY_SECONDS",
				Message: fmt.Sprintf("invalid delay: %q (must be an integer representing seconds)", v),
			})
		} else if seconds < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "EGRESS_RETRY_DELAY_SECONDS",
				Message: fmt.Sprintf("delay must be non-negative: %d", seconds),
			})
		} else {
			c.EgressRetryDelay = time.Duration(seconds) * time.Second
		}
	}

	// Webhook endpoint configuration
	if v := os.Getenv("WEBHOOK_RATE_LIMIT"); v != "" {
		rl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "WEBHOOK_RATE_LIMIT",
				Message: fmt.Sprintf("invalid rate: %q (must be a number)", v),
			})
		} else if rl < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "WEBHOOK_RATE_LIMIT",
				Message: fmt.Sprintf("rate must be non-negative: %v", rl),
			})
		} else {
			c.WebhookRateLimit = rl
		}
	}

	if v := os.Getenv("WEBHOOK_BURST"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "WEBHOOK_BURST",
				Message: fmt.Sprintf("invalid burst: %q (must be an integer)", v),
			})
		} else if b < 1 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "WEBHOOK_BURST",
				Message: fmt.Sprintf("burst must be positive: %d", b),
			})
		} else {
			c.WebhookBurst = b
		}
	}

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	// An unrecognized STORAGE_BACKEND is not fatal: the backend selector
	// warns and falls back to local at construction time.

	// S3 settings matter only when object storage is selected
	if c.UsesObjectStorage() && c.S3Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "S3_BUCKET",
			Message: fmt.Sprintf("S3 bucket is required when storage backend is %q", c.StorageBackend),
		})
	}

	// If one credential is set, both must be set
	if (c.S3AccessKeyID != "") != (c.S3SecretAccessKey != "") {
		errs = append(errs, ValidationError{
			Field:   "S3_ACCESS_KEY_ID / S3_SECRET_ACCESS_KEY",
			Message: "both S3 access key ID and secret access key must be set together",
		})
	}

	if (c.PlatformAPIKey != "") != (c.PlatformAPISecret != "") {
		errs = append(errs, ValidationError{
			Field:   "PLATFORM_API_KEY / PLATFORM_API_SECRET",
			Message: "both platform API key and secret must be set together",
		})
	}

	return errs
}

// UsesObjectStorage reports whether the configured backend stores recordings
// in S3-compatible object storage.
func (c *Config) UsesObjectStorage() bool {
	return c.StorageBackend == "s3" || c.StorageBackend == "remote"
}

// EgressEnabled reports whether the platform API is configured so egress
// orchestration can run.
func (c *Config) EgressEnabled() bool {
	return c.PlatformAPIURL != "" && c.PlatformAPIKey != "" && c.PlatformAPISecret != ""
}
