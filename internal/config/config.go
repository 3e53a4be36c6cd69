package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the cleaner runtime configuration
type Config struct {
	// UploadDir holds one working directory per job (raw upload + extracted/)
	// Optional. Defaults to "temp_uploads"
	UploadDir string

	// ProcessedDir holds standardized outputs and result archives
	// Optional. Defaults to "processed"
	ProcessedDir string

	// MaxUploadBytes is the upload size ceiling
	// Optional. Defaults to 1 GiB
	MaxUploadBytes int64

	// MaxArchiveEntries caps the number of entries accepted in one archive
	// Optional. Defaults to 10000
	MaxArchiveEntries int

	// ExpansionFactor bounds uncompressed archive size as a multiple of MaxUploadBytes
	// Optional. Defaults to 10
	ExpansionFactor int64

	// MaxConcurrentJobs is the number of pipelines allowed to run at once
	// Optional. Defaults to 3
	MaxConcurrentJobs int

	// JobRetention is how long finished jobs are kept before the sweeper removes them
	// Optional. Defaults to 24h
	JobRetention time.Duration

	// SweepInterval is the delay between retention sweeps
	// Optional. Defaults to 1h
	SweepInterval time.Duration

	// SweepRetryInterval is the first delay after a failed sweep
	// Optional. Defaults to 5m
	SweepRetryInterval time.Duration

	// JobTimeout bounds a single pipeline run. Zero disables it
	JobTimeout time.Duration

	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// LogFormat is "console" or "json"
	LogFormat string
}

// WithDefaults fills in default values for optional fields
func (c *Config) WithDefaults() {
	if c.UploadDir == "" {
		c.UploadDir = "temp_uploads"
	}
	if c.ProcessedDir == "" {
		c.ProcessedDir = "processed"
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 1024 * 1024 * 1024
	}
	if c.MaxArchiveEntries == 0 {
		c.MaxArchiveEntries = 10000
	}
	if c.ExpansionFactor == 0 {
		c.ExpansionFactor = 10
	}
	if c.MaxConcurrentJobs == 0 {
		c.MaxConcurrentJobs = 3
	}
	if c.JobRetention == 0 {
		c.JobRetention = 24 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Hour
	}
	if c.SweepRetryInterval == 0 {
		c.SweepRetryInterval = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

// Validate rejects negative or inconsistent values
func (c *Config) Validate() error {
	var errs []error
	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("MAX_FILE_SIZE must be positive"))
	}
	if c.MaxArchiveEntries < 0 {
		errs = append(errs, errors.New("MAX_ARCHIVE_ENTRIES must be positive"))
	}
	if c.ExpansionFactor < 0 {
		errs = append(errs, errors.New("ARCHIVE_EXPANSION_FACTOR must be positive"))
	}
	if c.MaxConcurrentJobs < 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_JOBS must be positive"))
	}
	if c.JobRetention <= 0 {
		errs = append(errs, errors.New("JOB_RETENTION must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepRetryInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_RETRY_INTERVAL must be positive"))
	}
	if c.JobTimeout < 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT must not be negative"))
	}
	if c.LogFormat != "" && c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Load reads a .env file if one exists, then the process environment
func Load() (Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function
func FromEnv(getenv func(string) string) (Config, error) {
	var (
		cfg  Config
		errs []error
	)

	cfg.UploadDir = getenv("UPLOAD_DIR")
	cfg.ProcessedDir = getenv("PROCESSED_DIR")
	cfg.LogLevel = getenv("LOG_LEVEL")
	cfg.LogFormat = getenv("LOG_FORMAT")

	parseInt64 := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	parseInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	parseDuration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	parseInt64("MAX_FILE_SIZE", &cfg.MaxUploadBytes)
	parseInt("MAX_ARCHIVE_ENTRIES", &cfg.MaxArchiveEntries)
	parseInt64("ARCHIVE_EXPANSION_FACTOR", &cfg.ExpansionFactor)
	parseInt("MAX_CONCURRENT_JOBS", &cfg.MaxConcurrentJobs)
	parseDuration("JOB_RETENTION", &cfg.JobRetention)
	parseDuration("SWEEP_INTERVAL", &cfg.SweepInterval)
	parseDuration("SWEEP_RETRY_INTERVAL", &cfg.SweepRetryInterval)
	parseDuration("JOB_TIMEOUT", &cfg.JobTimeout)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
