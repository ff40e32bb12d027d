package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/oauth2"
)

// FilePerms restricts the credential file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential directory.
const DirPerms = 0o700

const (
	lockTimeout    = 10 * time.Second
	lockRetryDelay = 100 * time.Millisecond
)

// Profile identifies the game profile attached to an account.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GameToken is the short-lived service token the game launches with.
type GameToken struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Session is the on-disk credential document: the Microsoft token pair
// for silent renewal plus the derived game token and profile.
type Session struct {
	Microsoft *oauth2.Token `json:"microsoft"`
	Minecraft GameToken     `json:"minecraft"`
	Profile   Profile       `json:"profile"`
}

// Store reads and writes the credential file. Writes are atomic
// (temp file + rename) and serialized across processes with a lock file
// next to the credential file.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the credential file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved session. Returns (nil, nil) when no session
// exists. A file that cannot be parsed is treated as absent so a fresh
// login can overwrite it, not as a hard failure.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("auth: reading credentials %s: %w", s.path, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("credential file is corrupt, treating as absent",
			slog.String("path", s.path),
			slog.String("error", err.Error()))

		return nil, nil //nolint:nilnil // corrupt file means re-login, not failure
	}

	return &sess, nil
}

// Save writes the session atomically with 0600 permissions, holding the
// cross-process lock for the duration. Never logs token values.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return s.write(sess)
}

// Update applies fn to the stored session while holding the
// cross-process lock for the whole read-modify-write, so a concurrent
// process cannot interleave a stale read with a fresh write. fn
// receives the current session (nil when absent) and returns the
// session to persist; returning (nil, nil) keeps the stored session
// untouched. A session that cannot be persisted is still returned —
// this run stays usable and the next one renews again.
func (s *Store) Update(ctx context.Context, fn func(*Session) (*Session, error)) (*Session, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.Load()
	if err != nil {
		return nil, err
	}

	fresh, err := fn(cur)
	if err != nil {
		return nil, err
	}

	if fresh == nil {
		return cur, nil
	}

	if writeErr := s.write(fresh); writeErr != nil {
		s.logger.Warn("failed to persist session",
			slog.String("path", s.path),
			slog.String("error", writeErr.Error()))
	}

	return fresh, nil
}

// write performs the atomic credential write. The caller holds the lock.
func (s *Store) write(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encoding credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("auth: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("auth: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: writing credentials: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close
	// and rename cannot leave an empty or partial credential file.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: syncing credentials: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("auth: renaming credentials: %w", err)
	}

	success = true

	return nil
}

// Clear removes the credential file. Returns nil if no session exists.
func (s *Store) Clear(ctx context.Context) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	err = os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("auth: removing credentials: %w", err)
	}

	return nil
}

// lock takes the cross-process write lock, returning the release func.
func (s *Store) lock(ctx context.Context) (func(), error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("auth: creating directory %s: %w", dir, err)
	}

	fileLock := flock.New(s.path + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("auth: locking credential file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("auth: credential file is locked by another process")
	}

	return func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			s.logger.Warn("failed to release credential lock",
				slog.String("error", unlockErr.Error()))
		}
	}, nil
}
