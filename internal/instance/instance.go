// Package instance manages named game instances: one directory per
// instance under instances/, each holding a JSON config plus the
// standard game subdirectories (saves, resourcepacks, logs, ...). The
// instance directory becomes the game's working directory at launch, so
// worlds and settings stay isolated between instances.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

const (
	configFileName = "instance.json"

	filePerms = 0o644
	dirPerms  = 0o755

	maxNameLen = 64

	// maxMemoryMB caps the per-instance heap setting at 128 GiB.
	maxMemoryMB = 128 * 1024
)

// defaultOptions seeds options.txt so a fresh instance starts with a
// sane language setting instead of the game's first-run dialog.
const defaultOptions = "version:3343\nlang:en_us\n"

// subdirs are created eagerly so the game never has to.
var subdirs = []string{"saves", "resourcepacks", "screenshots", "logs", "crash-reports"}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	// ErrNotFound means no instance with that name exists.
	ErrNotFound = errors.New("instance: not found")

	// ErrExists means an instance with that name already exists.
	ErrExists = errors.New("instance: already exists")
)

// Settings are the per-instance launch overrides.
type Settings struct {
	JavaArgs []string `json:"java_args,omitempty"`
	GameArgs []string `json:"game_args,omitempty"`
	MemoryMB int      `json:"memory_mb,omitempty"`

	// Server, when set, makes the game connect to this address on
	// startup ("host" or "host:port").
	Server string `json:"server,omitempty"`
}

// Instance is the on-disk config document of one instance.
type Instance struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Created     time.Time  `json:"created"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	Settings    Settings   `json:"settings"`
}

// ValidateName enforces the instance naming rules: letters, digits,
// hyphens, and underscores, at most 64 characters. Names become path
// segments, so nothing else is allowed.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("instance: name must not be empty")
	}

	if len(name) > maxNameLen {
		return fmt.Errorf("instance: name is too long (%d characters, maximum %d)", len(name), maxNameLen)
	}

	if !nameRe.MatchString(name) {
		return fmt.Errorf("instance: name %q may only contain letters, numbers, hyphens, and underscores", name)
	}

	return nil
}

// Store reads and writes instance configs under one instances
// directory.
type Store struct {
	dir    string
	logger *slog.Logger

	nowFunc func() time.Time // injectable for deterministic tests
}

// NewStore creates a store rooted at the instances directory. The
// directory is created lazily on first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger, nowFunc: time.Now}
}

// Dir returns the directory of the named instance.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.dir, name)
}

// Create scaffolds a new instance: validates the name, writes the
// config, and creates the standard subdirectories. The version id is
// not validated here; callers check it against the version manifest.
func (s *Store) Create(name, version, description string) (*Instance, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(s.Dir(name), configFileName)); err == nil {
		return nil, fmt.Errorf("instance: %q: %w", name, ErrExists)
	}

	inst := &Instance{
		Name:        name,
		Version:     version,
		Description: description,
		Created:     s.nowFunc().UTC(),
	}

	if err := s.scaffold(name); err != nil {
		return nil, err
	}

	if err := s.Save(inst); err != nil {
		return nil, err
	}

	s.logger.Info("created instance",
		slog.String("name", name),
		slog.String("version", version))

	return inst, nil
}

// scaffold creates the instance directory tree and a default
// options.txt.
func (s *Store) scaffold(name string) error {
	dir := s.Dir(name)

	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), dirPerms); err != nil {
			return fmt.Errorf("instance: creating %s: %w", sub, err)
		}
	}

	optionsPath := filepath.Join(dir, "options.txt")
	if _, err := os.Stat(optionsPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(optionsPath, []byte(defaultOptions), filePerms); err != nil {
			return fmt.Errorf("instance: writing options.txt: %w", err)
		}
	}

	return nil
}

// Load reads one instance config. Returns ErrNotFound when the
// instance does not exist.
func (s *Store) Load(name string) (*Instance, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(name), configFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("instance: %q: %w", name, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("instance: reading config for %q: %w", name, err)
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("instance: parsing config for %q: %w", name, err)
	}

	return &inst, nil
}

// List returns every readable instance, sorted by name. Directories
// with a corrupt or missing config are logged and skipped rather than
// failing the whole listing.
func (s *Store) List() ([]*Instance, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("instance: reading instances directory: %w", err)
	}

	var out []*Instance

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		inst, err := s.Load(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable instance",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()))

			continue
		}

		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// Save writes the instance config atomically (temp file + rename in
// the same directory).
func (s *Store) Save(inst *Instance) error {
	dir := s.Dir(inst.Name)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("instance: creating directory for %q: %w", inst.Name, err)
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("instance: encoding config for %q: %w", inst.Name, err)
	}

	tmp, err := os.CreateTemp(dir, ".instance-*.tmp")
	if err != nil {
		return fmt.Errorf("instance: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("instance: writing config for %q: %w", inst.Name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("instance: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, configFileName)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("instance: renaming config for %q: %w", inst.Name, err)
	}

	return nil
}

// Delete removes the instance and everything in its directory,
// including saved worlds.
func (s *Store) Delete(name string) error {
	if _, err := s.Load(name); err != nil {
		return err
	}

	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("instance: deleting %q: %w", name, err)
	}

	s.logger.Info("deleted instance", slog.String("name", name))

	return nil
}

// Touch stamps the instance's last-used time.
func (s *Store) Touch(name string) error {
	inst, err := s.Load(name)
	if err != nil {
		return err
	}

	now := s.nowFunc().UTC()
	inst.LastUsed = &now

	return s.Save(inst)
}

// SetMemory updates the instance's heap allocation.
func (s *Store) SetMemory(name string, memoryMB int) error {
	if memoryMB <= 0 {
		return errors.New("instance: memory must be greater than 0 MB")
	}

	if memoryMB > maxMemoryMB {
		return fmt.Errorf("instance: memory value %d MB exceeds the maximum of %d MB", memoryMB, maxMemoryMB)
	}

	inst, err := s.Load(name)
	if err != nil {
		return err
	}

	inst.Settings.MemoryMB = memoryMB

	return s.Save(inst)
}
