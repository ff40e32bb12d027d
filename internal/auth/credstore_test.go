package auth

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *Session {
	return &Session{
		Microsoft: &oauth2.Token{
			AccessToken:  "ms-access",
			RefreshToken: "ms-refresh",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
		},
		Minecraft: GameToken{
			AccessToken: "mc-access",
			Expiry:      time.Now().Add(24 * time.Hour).Truncate(time.Second),
		},
		Profile: Profile{ID: "069a79f444e94726a5befca90e38aaf5", Name: "Notch"},
	}
}

func TestStore_LoadAbsent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "credentials.json"), testLogger())

	sess, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())

	want := testSession()
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.Microsoft.AccessToken, got.Microsoft.AccessToken)
	assert.Equal(t, want.Microsoft.RefreshToken, got.Microsoft.RefreshToken)
	assert.Equal(t, want.Minecraft.AccessToken, got.Minecraft.AccessToken)
	assert.True(t, want.Minecraft.Expiry.Equal(got.Minecraft.Expiry))
	assert.Equal(t, want.Profile, got.Profile)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FilePerms), fi.Mode().Perm())
	}
}

func TestStore_SaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "credentials.json")
	s := NewStore(path, testLogger())

	require.NoError(t, s.Save(context.Background(), testSession()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStore_CorruptFileTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewStore(path, testLogger())

	sess, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestStore_UpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testSession()))

	sess, err := s.Update(ctx, func(cur *Session) (*Session, error) {
		require.NotNil(t, cur)
		cur.Profile.Name = "Renamed"

		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", sess.Profile.Name)

	stored, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Profile.Name)
}

func TestStore_UpdateNilKeepsStoredSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())

	ctx := context.Background()
	want := testSession()
	require.NoError(t, s.Save(ctx, want))

	sess, err := s.Update(ctx, func(cur *Session) (*Session, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, want.Profile, sess.Profile)
}

func TestStore_UpdateExcludedWhileAnotherProcessHoldsLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())
	require.NoError(t, s.Save(context.Background(), testSession()))

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = s.Update(ctx, func(cur *Session) (*Session, error) {
		t.Error("read-modify-write ran while another process held the lock")

		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locking credential file")
}

func TestStore_UpdateBlocksUntilLockReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())
	require.NoError(t, s.Save(context.Background(), testSession()))

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	go func() {
		time.Sleep(250 * time.Millisecond)
		_ = other.Unlock()
	}()

	start := time.Now()

	sess, err := s.Update(context.Background(), func(cur *Session) (*Session, error) {
		cur.Profile.Name = "AfterWait"

		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "AfterWait", sess.Profile.Name)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestStore_ClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, testLogger())

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testSession()))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing again is a no-op.
	assert.NoError(t, s.Clear(ctx))
}
