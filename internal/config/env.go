package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "LODESTONE_CONFIG"
	EnvDataDir  = "LODESTONE_DATA_DIR"
	EnvLogLevel = "LODESTONE_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LODESTONE_CONFIG: override config file path
	DataDir    string // LODESTONE_DATA_DIR: override game data directory
	LogLevel   string // LODESTONE_LOG_LEVEL: override log level
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
