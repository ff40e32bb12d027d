package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides carries flag values from the CLI layer. String fields use
// "" for "not specified"; pointer fields distinguish an explicit zero from
// an unset flag.
type CLIOverrides struct {
	ConfigPath        string
	DataDir           string
	ParallelDownloads *int
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions — silently ignoring a typo in a config file leads to
// hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The returned Config always has a usable DataDir.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	// 1. Resolve config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists).
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides.
	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	// 4. Apply CLI overrides.
	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}

	if cli.ParallelDownloads != nil {
		cfg.ParallelDownloads = *cli.ParallelDownloads
	}

	// 5. Fall back to the platform default data directory.
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.JavaPath = expandHome(cfg.JavaPath)

	if cfg.DataDir == "" {
		return nil, errors.New("cannot determine data directory (set data_dir or LODESTONE_DATA_DIR)")
	}

	// 6. Validate the final merged result.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
