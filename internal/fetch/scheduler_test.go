package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-mc/lodestone/internal/backoff"
	"github.com/lodestone-mc/lodestone/internal/integrity"
	"github.com/lodestone-mc/lodestone/internal/mojang"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2}
}

// artifactServer serves fixed payloads by URL path and counts hits.
type artifactServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	payloads map[string][]byte
	failures map[string]int // serve 503 for the first N requests to a path
	hits     map[string]int
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()

	a := &artifactServer{
		payloads: make(map[string][]byte),
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}

	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.hits[r.URL.Path]++
		remaining := a.failures[r.URL.Path]
		if remaining > 0 {
			a.failures[r.URL.Path]--
		}
		payload, ok := a.payloads[r.URL.Path]
		a.mu.Unlock()

		if remaining > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(a.srv.Close)

	return a
}

// add registers content for a logical path and returns the matching
// artifact.
func (a *artifactServer) add(t *testing.T, relPath string, content []byte) mojang.Artifact {
	t.Helper()

	digest, err := integrity.Digest(bytes.NewReader(content))
	require.NoError(t, err)

	a.mu.Lock()
	a.payloads["/"+relPath] = content
	a.mu.Unlock()

	return mojang.Artifact{
		Path: relPath,
		URL:  a.srv.URL + "/" + relPath,
		SHA1: digest,
		Size: int64(len(content)),
		Kind: mojang.KindLibrary,
	}
}

func (a *artifactServer) hitCount(relPath string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.hits["/"+relPath]
}

func (a *artifactServer) totalHits() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, n := range a.hits {
		total += n
	}

	return total
}

func newTestScheduler(root string, opts Options) *Scheduler {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = testPolicy()
	}

	return NewScheduler(root, opts, testLogger())
}

func TestScheduler_FetchAll_DownloadsAndVerifies(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	artifacts := []mojang.Artifact{
		srv.add(t, "versions/1.21.4/1.21.4.jar", []byte("client jar bytes")),
		srv.add(t, "libraries/com/mojang/brigadier/1.2.9/brigadier-1.2.9.jar", []byte("brigadier bytes")),
		srv.add(t, "assets/objects/01/0123abcd", []byte("asset bytes")),
	}

	var progress []int
	s := newTestScheduler(root, Options{
		Workers: 4,
		OnProgress: func(done, total int) {
			progress = append(progress, done)
			assert.Equal(t, 3, total)
		},
	})

	report, err := s.FetchAll(context.Background(), artifacts)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 0, report.Reused)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Ok())
	assert.Equal(t, int64(len("client jar bytes")+len("brigadier bytes")+len("asset bytes")), report.BytesFetched)
	assert.Equal(t, 3, report.Verified())
	assert.Len(t, progress, 3)
	assert.Equal(t, 3, progress[len(progress)-1])

	for _, a := range artifacts {
		local := filepath.Join(root, filepath.FromSlash(a.Path))

		content, err := os.ReadFile(local)
		require.NoError(t, err)

		digest, err := integrity.Digest(bytes.NewReader(content))
		require.NoError(t, err)
		assert.True(t, integrity.Equal(digest, a.SHA1))

		_, err = os.Stat(local + partialSuffix)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	}
}

func TestScheduler_FetchAll_ReusesVerifiedFiles(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	content := []byte("already here")
	artifact := srv.add(t, "libraries/present.jar", content)

	local := filepath.Join(root, "libraries", "present.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, content, 0o644))

	s := newTestScheduler(root, Options{Workers: 2})

	report, err := s.FetchAll(context.Background(), []mojang.Artifact{artifact})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reused)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 0, srv.hitCount("libraries/present.jar"))
}

func TestScheduler_FetchAll_LedgerFastPathSkipsHashing(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	// The artifact's true content and the on-disk content differ but have
	// the same size. A ledger entry matching the file's stat fingerprint
	// must be trusted without re-hashing, so the divergence goes unseen.
	artifact := srv.add(t, "libraries/fast.jar", []byte("0123456789"))

	local := filepath.Join(root, "libraries", "fast.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("abcdefghij"), 0o644))

	fi, err := os.Stat(local)
	require.NoError(t, err)

	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "artifacts.db"), testLogger())
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.Record(ctx, artifact.Path, artifact.SHA1, fi.Size(), fi.ModTime().UnixNano(), "seed"))

	s := newTestScheduler(root, Options{Workers: 1, Ledger: ledger})

	report, err := s.FetchAll(ctx, []mojang.Artifact{artifact})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reused)
	assert.Equal(t, 0, srv.totalHits())
}

func TestScheduler_FetchAll_RecordsLedgerEntries(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	artifact := srv.add(t, "libraries/tracked.jar", []byte("tracked content"))

	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "artifacts.db"), testLogger())
	require.NoError(t, err)
	defer ledger.Close()

	s := newTestScheduler(root, Options{Workers: 1, Ledger: ledger})

	ctx := context.Background()
	report, err := s.FetchAll(ctx, []mojang.Artifact{artifact})
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)

	entry, err := ledger.Lookup(ctx, artifact.Path)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, integrity.Equal(entry.Digest, artifact.SHA1))

	fi, err := os.Stat(filepath.Join(root, "libraries", "tracked.jar"))
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), entry.Size)
	assert.Equal(t, fi.ModTime().UnixNano(), entry.Mtime)

	// Second run trusts the recorded entry: no network traffic.
	report, err = s.FetchAll(ctx, []mojang.Artifact{artifact})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reused)
	assert.Equal(t, 1, srv.hitCount("libraries/tracked.jar"))
}

func TestScheduler_FetchAll_RedownloadsStaleFile(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	artifact := srv.add(t, "libraries/stale.jar", []byte("fresh content"))

	local := filepath.Join(root, "libraries", "stale.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("rotted content"), 0o644))

	s := newTestScheduler(root, Options{Workers: 1})

	report, err := s.FetchAll(context.Background(), []mojang.Artifact{artifact})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, srv.hitCount("libraries/stale.jar"))

	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh content"), content)
}

func TestScheduler_FetchAll_FailureDoesNotCancelSiblings(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	good1 := srv.add(t, "libraries/good1.jar", []byte("good one"))
	good2 := srv.add(t, "libraries/good2.jar", []byte("good two"))
	missing := mojang.Artifact{
		Path: "libraries/missing.jar",
		URL:  srv.srv.URL + "/libraries/missing.jar",
		SHA1: "0000000000000000000000000000000000000000",
		Size: 4,
		Kind: mojang.KindLibrary,
	}

	s := newTestScheduler(root, Options{Workers: 2})

	report, err := s.FetchAll(context.Background(), []mojang.Artifact{good1, missing, good2})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Ok())

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "libraries/missing.jar", report.Failures[0].Artifact.Path)

	var httpErr *httpError
	require.ErrorAs(t, report.Failures[0].Err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	// Terminal status: exactly one request, no retries.
	assert.Equal(t, 1, srv.hitCount("libraries/missing.jar"))

	_, err = os.Stat(filepath.Join(root, "libraries", "good1.jar"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "libraries", "good2.jar"))
	assert.NoError(t, err)
}

func TestScheduler_FetchAll_RetriesTransientThenSucceeds(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	artifact := srv.add(t, "libraries/flaky.jar", []byte("flaky content"))
	srv.failures["/libraries/flaky.jar"] = 2

	s := newTestScheduler(root, Options{Workers: 1})

	report, err := s.FetchAll(context.Background(), []mojang.Artifact{artifact})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, srv.hitCount("libraries/flaky.jar"))
}

func TestScheduler_FetchAll_DigestMismatchExhaustsRetries(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	// Server content never matches the expected digest.
	artifact := srv.add(t, "libraries/corrupt.jar", []byte("served bytes"))
	artifact.SHA1 = "1111111111111111111111111111111111111111"

	s := newTestScheduler(root, Options{Workers: 1})

	report, err := s.FetchAll(context.Background(), []mojang.Artifact{artifact})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, integrity.ErrMismatch)

	// Mismatches are transient: the full attempt budget is spent.
	assert.Equal(t, 3, srv.hitCount("libraries/corrupt.jar"))

	local := filepath.Join(root, "libraries", "corrupt.jar")
	_, err = os.Stat(local)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = os.Stat(local + partialSuffix)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestScheduler_FetchAll_BoundedConcurrency(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	current, peak := 0, 0

	content := []byte("payload")
	digest, err := integrity.Digest(bytes.NewReader(content))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()

		_, _ = w.Write(content)
	}))
	defer srv.Close()

	var artifacts []mojang.Artifact
	for i := 0; i < 12; i++ {
		artifacts = append(artifacts, mojang.Artifact{
			Path: filepath.ToSlash(filepath.Join("assets", "objects", "aa", string(rune('a'+i)))),
			URL:  srv.URL + "/obj",
			SHA1: digest,
			Size: int64(len(content)),
			Kind: mojang.KindAsset,
		})
	}

	s := newTestScheduler(root, Options{Workers: 3})

	report, err := s.FetchAll(context.Background(), artifacts)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Fetched)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 3)
	assert.Greater(t, peak, 0)
}

func TestScheduler_FetchAll_CanceledBeforeStart(t *testing.T) {
	srv := newArtifactServer(t)
	root := t.TempDir()

	artifacts := []mojang.Artifact{
		srv.add(t, "libraries/a.jar", []byte("aa")),
		srv.add(t, "libraries/b.jar", []byte("bb")),
		srv.add(t, "libraries/c.jar", []byte("cc")),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScheduler(root, Options{Workers: 2})

	report, err := s.FetchAll(ctx, artifacts)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, srv.totalHits())
}

func TestScheduler_VerifyAll_ReportsMissingAndCorrupt(t *testing.T) {
	root := t.TempDir()

	goodContent := []byte("good content")
	goodDigest, err := integrity.Digest(bytes.NewReader(goodContent))
	require.NoError(t, err)

	good := mojang.Artifact{Path: "libraries/good.jar", SHA1: goodDigest, Size: int64(len(goodContent)), Kind: mojang.KindLibrary}
	corrupt := mojang.Artifact{Path: "libraries/corrupt.jar", SHA1: goodDigest, Size: int64(len(goodContent)), Kind: mojang.KindLibrary}
	missing := mojang.Artifact{Path: "libraries/missing.jar", SHA1: goodDigest, Size: int64(len(goodContent)), Kind: mojang.KindLibrary}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "libraries"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "libraries", "good.jar"), goodContent, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "libraries", "corrupt.jar"), []byte("bad content!"), 0o644))

	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "artifacts.db"), testLogger())
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()

	// A stale entry for the corrupt file must be removed by the audit.
	require.NoError(t, ledger.Record(ctx, corrupt.Path, corrupt.SHA1, 1, 1, "stale"))

	s := newTestScheduler(root, Options{Workers: 2, Ledger: ledger})

	report, err := s.VerifyAll(ctx, []mojang.Artifact{good, corrupt, missing})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reused)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Verified())

	failuresByPath := make(map[string]error, len(report.Failures))
	for _, f := range report.Failures {
		failuresByPath[f.Artifact.Path] = f.Err
	}
	assert.ErrorIs(t, failuresByPath["libraries/corrupt.jar"], integrity.ErrMismatch)
	assert.ErrorIs(t, failuresByPath["libraries/missing.jar"], fs.ErrNotExist)

	entry, err := ledger.Lookup(ctx, good.Path)
	require.NoError(t, err)
	assert.NotNil(t, entry)

	entry, err = ledger.Lookup(ctx, corrupt.Path)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRetryableFetchErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "digest mismatch", err: &integrity.MismatchError{Path: "x", Want: "a", Got: "b"}, want: true},
		{name: "http 503", err: &httpError{URL: "http://x", Status: 503}, want: true},
		{name: "http 429", err: &httpError{URL: "http://x", Status: 429}, want: true},
		{name: "http 404", err: &httpError{URL: "http://x", Status: 404}, want: false},
		{name: "http 403", err: &httpError{URL: "http://x", Status: 403}, want: false},
		{name: "transport error", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, want: true},
		{name: "disk error", err: errors.New("permission denied"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableFetchErr(tt.err))
		})
	}
}
