// Package config loads and validates the launcher configuration: one TOML
// file with flat keys, layered under environment variables and CLI flags
// (defaults -> file -> environment -> flags, later layers win).
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default values for configuration options. These are layer 0 of the
// override chain and must work without any config file present.
const (
	defaultLogLevel          = "info"
	defaultParallelDownloads = 32
	defaultDownloadAttempts  = 3
	defaultMemoryMB          = 2048
	defaultSafetyMargin      = "1h"
)

// Limits enforced by Validate.
const (
	minParallelDownloads = 1
	maxParallelDownloads = 128
	minDownloadAttempts  = 1
	maxDownloadAttempts  = 10
	minMemoryMB          = 512
	maxMemoryMB          = 128 * 1024 // 128 GiB
)

// Config holds the effective launcher configuration.
type Config struct {
	// Logging
	LogLevel string `toml:"log_level"`

	// Game data
	DataDir  string `toml:"data_dir"`
	MemoryMB int    `toml:"memory_mb"`
	JavaPath string `toml:"java_path"`

	// Downloads
	ParallelDownloads int `toml:"parallel_downloads"`
	DownloadAttempts  int `toml:"download_attempts"`

	// Auth
	ClientID     string `toml:"client_id"`
	SafetyMargin string `toml:"safety_margin"`
}

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (unset fields keep their
// defaults) and as the fallback when no config file exists. DataDir and
// ClientID stay empty here; Resolve fills in the platform data directory
// and the auth layer owns the built-in client id.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          defaultLogLevel,
		MemoryMB:          defaultMemoryMB,
		ParallelDownloads: defaultParallelDownloads,
		DownloadAttempts:  defaultDownloadAttempts,
		SafetyMargin:      defaultSafetyMargin,
	}
}

// SafetyMarginDuration returns the parsed safety margin. Validate has
// already rejected unparseable values; a zero-value Config falls back to
// the default.
func (c *Config) SafetyMarginDuration() time.Duration {
	d, err := time.ParseDuration(c.SafetyMargin)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultSafetyMargin)
	}

	return d
}

// expandHome replaces a leading "~" with the user's home directory.
// Returns the path unchanged when it has no tilde or the home directory
// cannot be determined.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}

		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}

	return path
}
