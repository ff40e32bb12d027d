package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "lodestone"

// Well-known file names under the config and data directories.
const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	ledgerFileName      = "artifacts.db"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/lodestone).
// On macOS, uses ~/Library/Application Support/lodestone per Apple guidelines.
// Other platforms fall back to ~/.config/lodestone.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for game data
// (versions, libraries, assets, instances, the verification ledger).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/lodestone).
// On macOS, uses ~/Library/Application Support/lodestone (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is the fallback when neither LODESTONE_CONFIG nor --config is set.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// CredentialsPath returns the path of the persisted credential file.
func CredentialsPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, credentialsFileName)
}

// LedgerPath returns the path of the artifact verification ledger database
// under the given data directory.
func LedgerPath(dataDir string) string {
	return filepath.Join(dataDir, ledgerFileName)
}

// --- Game data layout ---
//
// The on-disk layout mirrors the logical artifact paths the resolver
// produces, so "join dataDir with the slash-separated logical path" and
// these helpers always agree.

// VersionDir returns the directory holding one version's jar, descriptor
// and extracted natives.
func VersionDir(dataDir, versionID string) string {
	return filepath.Join(dataDir, "versions", versionID)
}

// VersionJarPath returns the path of a version's client jar.
func VersionJarPath(dataDir, versionID string) string {
	return filepath.Join(VersionDir(dataDir, versionID), versionID+".jar")
}

// VersionDescriptorPath returns the path of a version's cached descriptor.
func VersionDescriptorPath(dataDir, versionID string) string {
	return filepath.Join(VersionDir(dataDir, versionID), versionID+".json")
}

// NativesDir returns the directory native libraries are extracted into
// before launch.
func NativesDir(dataDir, versionID string) string {
	return filepath.Join(VersionDir(dataDir, versionID), "natives")
}

// LibrariesDir returns the root of the Maven-style library tree.
func LibrariesDir(dataDir string) string {
	return filepath.Join(dataDir, "libraries")
}

// AssetsDir returns the root of the asset store.
func AssetsDir(dataDir string) string {
	return filepath.Join(dataDir, "assets")
}

// AssetIndexPath returns the path of a cached asset index.
func AssetIndexPath(dataDir, indexID string) string {
	return filepath.Join(AssetsDir(dataDir), "indexes", indexID+".json")
}

// InstancesDir returns the root of the instance tree.
func InstancesDir(dataDir string) string {
	return filepath.Join(dataDir, "instances")
}

// InstanceDir returns the directory of a named instance.
func InstanceDir(dataDir, name string) string {
	return filepath.Join(InstancesDir(dataDir), name)
}
