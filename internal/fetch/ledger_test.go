package fetch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "artifacts.db")

	l, err := OpenLedger(dbPath, testLogger())
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()

	entry, err := l.Lookup(ctx, "libraries/a.jar")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, l.Record(ctx, "libraries/a.jar", "aaaa", 123, 456789, "run-1"))

	entry, err = l.Lookup(ctx, "libraries/a.jar")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "aaaa", entry.Digest)
	assert.Equal(t, int64(123), entry.Size)
	assert.Equal(t, int64(456789), entry.Mtime)

	// Upsert replaces the previous entry.
	require.NoError(t, l.Record(ctx, "libraries/a.jar", "bbbb", 124, 456790, "run-2"))

	entry, err = l.Lookup(ctx, "libraries/a.jar")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "bbbb", entry.Digest)

	require.NoError(t, l.Forget(ctx, "libraries/a.jar"))

	entry, err = l.Lookup(ctx, "libraries/a.jar")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "artifacts.db")
	ctx := context.Background()

	l, err := OpenLedger(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, "versions/1.21.4/1.21.4.jar", "cccc", 999, 111, "run-1"))
	require.NoError(t, l.Close())

	l, err = OpenLedger(dbPath, testLogger())
	require.NoError(t, err)
	defer l.Close()

	entry, err := l.Lookup(ctx, "versions/1.21.4/1.21.4.jar")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "cccc", entry.Digest)
}

func TestLedger_ForgetMissingPathIsNoop(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "artifacts.db")

	l, err := OpenLedger(dbPath, testLogger())
	require.NoError(t, err)
	defer l.Close()

	assert.NoError(t, l.Forget(context.Background(), "never/recorded.jar"))
}
