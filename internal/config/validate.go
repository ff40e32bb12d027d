package config

import (
	"errors"
	"fmt"
	"time"
)

// validLogLevels are the accepted values for log_level.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.ParallelDownloads < minParallelDownloads || cfg.ParallelDownloads > maxParallelDownloads {
		errs = append(errs, fmt.Errorf("parallel_downloads %d outside range %d-%d",
			cfg.ParallelDownloads, minParallelDownloads, maxParallelDownloads))
	}

	if cfg.DownloadAttempts < minDownloadAttempts || cfg.DownloadAttempts > maxDownloadAttempts {
		errs = append(errs, fmt.Errorf("download_attempts %d outside range %d-%d",
			cfg.DownloadAttempts, minDownloadAttempts, maxDownloadAttempts))
	}

	if cfg.MemoryMB < minMemoryMB || cfg.MemoryMB > maxMemoryMB {
		errs = append(errs, fmt.Errorf("memory_mb %d outside range %d-%d",
			cfg.MemoryMB, minMemoryMB, maxMemoryMB))
	}

	if err := validateSafetyMargin(cfg.SafetyMargin); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateSafetyMargin checks that the margin parses as a positive duration.
func validateSafetyMargin(margin string) error {
	d, err := time.ParseDuration(margin)
	if err != nil {
		return fmt.Errorf("safety_margin %q is not a duration (e.g. \"1h\", \"30m\"): %w", margin, err)
	}

	if d <= 0 {
		return fmt.Errorf("safety_margin %q must be positive", margin)
	}

	return nil
}
