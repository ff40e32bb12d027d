// Package fetch downloads and verifies game artifacts through a bounded
// worker pool. Every file lands via a .partial temp file, is hashed while
// streaming, and is renamed into place only after its digest matches the
// expected value. A SQLite ledger remembers past verifications so
// unchanged files are trusted without re-hashing on later runs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lodestone-mc/lodestone/internal/backoff"
	"github.com/lodestone-mc/lodestone/internal/integrity"
	"github.com/lodestone-mc/lodestone/internal/mojang"
)

const (
	dirPermissions = 0o755
	partialSuffix  = ".partial"
	userAgent      = "lodestone"
)

// httpError is a non-2xx response to an artifact download.
type httpError struct {
	URL    string
	Status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("fetch: HTTP %d from %s", e.Status, e.URL)
}

// retryableStatus reports whether a download HTTP status is worth
// retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryableFetchErr decides whether a failed download attempt should be
// retried. Digest mismatches and transport errors are transient; HTTP
// errors follow their status code; everything else (disk errors) is
// terminal.
func retryableFetchErr(err error) bool {
	if errors.Is(err, integrity.ErrMismatch) {
		return true
	}

	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.Status)
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Options tune a Scheduler. Zero values fall back to safe defaults.
type Options struct {
	// Workers bounds concurrent downloads. Values below 1 become 1.
	Workers int

	// Policy is the per-artifact retry policy.
	Policy backoff.Policy

	// Ledger, when set, enables the stat fast path and records
	// verifications. A nil ledger degrades to hashing every file.
	Ledger *Ledger

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// OnProgress, when set, is called after each artifact settles.
	OnProgress func(done, total int)
}

// Scheduler fans artifact downloads out over a bounded worker pool.
type Scheduler struct {
	root       string
	workers    int
	policy     backoff.Policy
	ledger     *Ledger
	httpClient *http.Client
	onProgress func(done, total int)
	logger     *slog.Logger
}

// NewScheduler creates a scheduler rooted at the artifact directory.
func NewScheduler(root string, opts Options, logger *slog.Logger) *Scheduler {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall timeout: artifact sizes vary over three orders of
		// magnitude and cancellation arrives via context.
		httpClient = &http.Client{}
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = backoff.Default()
	}

	return &Scheduler{
		root:       root,
		workers:    workers,
		policy:     policy,
		ledger:     opts.Ledger,
		httpClient: httpClient,
		onProgress: opts.OnProgress,
		logger:     logger,
	}
}

// outcome holds the settled result of one artifact for thread-safe
// report updates.
type outcome struct {
	bytes   int64
	reused  bool
	skipped bool
	err     error
}

// FetchAll brings every artifact to a verified state on disk, reusing
// files that already match their digest. Individual failures never
// cancel sibling downloads; they are collected in the report. The
// returned error is non-nil only when the context was canceled.
func (s *Scheduler) FetchAll(ctx context.Context, artifacts []mojang.Artifact) (*Report, error) {
	report := &Report{Total: len(artifacts)}
	if len(artifacts) == 0 {
		return report, nil
	}

	runID := uuid.NewString()
	s.logger.Info("fetch: starting",
		"count", len(artifacts),
		"workers", s.workers,
		"run_id", runID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var mu sync.Mutex
	done := 0

	for i := range artifacts {
		artifact := &artifacts[i]
		g.Go(func() error {
			result := s.fetchOne(gctx, artifact, runID)

			mu.Lock()
			defer mu.Unlock()

			done++
			s.settle(report, artifact, result)

			if s.onProgress != nil {
				s.onProgress(done, report.Total)
			}

			return nil
		})
	}

	// Workers never return errors, so Wait only synchronizes.
	_ = g.Wait()

	s.logger.Info("fetch: complete",
		"fetched", report.Fetched,
		"reused", report.Reused,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"bytes", report.BytesFetched,
		"run_id", runID)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	return report, nil
}

// settle applies one outcome to the report. Caller holds the mutex.
func (s *Scheduler) settle(report *Report, artifact *mojang.Artifact, result outcome) {
	switch {
	case result.skipped:
		report.Skipped++
	case result.err != nil:
		report.Failed++
		report.Failures = append(report.Failures, Failure{Artifact: *artifact, Err: result.err})
		s.logger.Warn("fetch: artifact failed",
			"path", artifact.Path,
			"kind", artifact.Kind.String(),
			"error", result.err)
	case result.reused:
		report.Reused++
	default:
		report.Fetched++
		report.BytesFetched += result.bytes
	}
}

// fetchOne settles a single artifact: cache check, then download with
// retries.
func (s *Scheduler) fetchOne(ctx context.Context, artifact *mojang.Artifact, runID string) outcome {
	if ctx.Err() != nil {
		return outcome{skipped: true}
	}

	localPath := filepath.Join(s.root, filepath.FromSlash(artifact.Path))

	if s.verifyExisting(ctx, localPath, artifact, runID) {
		return outcome{reused: true}
	}

	var n int64
	err := backoff.Retry(ctx, s.policy, retryableFetchErr, func(ctx context.Context) error {
		written, err := s.downloadVerify(ctx, artifact, localPath)
		n = written
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcome{skipped: true}
		}

		return outcome{err: err}
	}

	s.recordVerification(ctx, artifact, localPath, runID)

	return outcome{bytes: n}
}

// verifyExisting reports whether the file at localPath already matches
// the artifact digest. The ledger fast path trusts a stored digest when
// the file's size and mtime are unchanged since the last verification;
// otherwise the file is hashed in full.
func (s *Scheduler) verifyExisting(ctx context.Context, localPath string, artifact *mojang.Artifact, runID string) bool {
	fi, err := os.Stat(localPath)
	if err != nil {
		return false
	}

	if s.ledger != nil {
		entry, err := s.ledger.Lookup(ctx, artifact.Path)
		if err != nil {
			s.logger.Debug("fetch: ledger lookup failed", "path", artifact.Path, "error", err)
		} else if entry != nil &&
			integrity.Equal(entry.Digest, artifact.SHA1) &&
			entry.Size == fi.Size() &&
			entry.Mtime == fi.ModTime().UnixNano() {
			return true
		}
	}

	if err := integrity.VerifyFile(localPath, artifact.SHA1); err != nil {
		s.logger.Debug("fetch: cached file stale", "path", artifact.Path, "error", err)
		return false
	}

	s.recordVerification(ctx, artifact, localPath, runID)

	return true
}

// downloadVerify streams the artifact to a .partial temp file, hashing
// while writing, and renames it into place once the digest matches.
func (s *Scheduler) downloadVerify(ctx context.Context, artifact *mojang.Artifact, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), dirPermissions); err != nil {
		return 0, fmt.Errorf("fetch: mkdir for %s: %w", artifact.Path, err)
	}

	partialPath := localPath + partialSuffix

	n, gotDigest, err := s.downloadToPartial(ctx, artifact, partialPath)
	if err != nil {
		_ = os.Remove(partialPath) // best-effort cleanup; error is non-actionable here
		return 0, err
	}

	if !integrity.Equal(gotDigest, artifact.SHA1) {
		_ = os.Remove(partialPath)
		return 0, &integrity.MismatchError{Path: artifact.Path, Want: artifact.SHA1, Got: gotDigest}
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		_ = os.Remove(partialPath)
		return 0, fmt.Errorf("fetch: rename partial %s: %w", artifact.Path, err)
	}

	return n, nil
}

// downloadToPartial writes the response body to the partial file and
// returns bytes written and the streamed digest.
func (s *Scheduler) downloadToPartial(ctx context.Context, artifact *mojang.Artifact, partialPath string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("fetch: creating request for %s: %w", artifact.Path, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch: download %s: %w", artifact.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, "", &httpError{URL: artifact.URL, Status: resp.StatusCode}
	}

	f, err := os.Create(partialPath)
	if err != nil {
		return 0, "", fmt.Errorf("fetch: create partial file %s: %w", partialPath, err)
	}
	defer f.Close()

	hasher := integrity.NewHash()
	mw := io.MultiWriter(f, hasher)

	n, err := io.Copy(mw, resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("fetch: download %s: %w", artifact.Path, err)
	}

	return n, integrity.Encode(hasher.Sum(nil)), nil
}

// recordVerification stores the ledger entry for a freshly verified file.
func (s *Scheduler) recordVerification(ctx context.Context, artifact *mojang.Artifact, localPath, runID string) {
	if s.ledger == nil {
		return
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		s.logger.Warn("fetch: stat after verify failed", "path", artifact.Path, "error", err)
		return
	}

	if err := s.ledger.Record(ctx, artifact.Path, artifact.SHA1, fi.Size(), fi.ModTime().UnixNano(), runID); err != nil {
		s.logger.Warn("fetch: ledger record failed", "path", artifact.Path, "error", err)
	}
}

// VerifyAll hashes every artifact on disk, bypassing the ledger fast
// path, and repairs ledger entries to match what it finds. Nothing is
// downloaded. Missing and corrupt files are reported as failures.
func (s *Scheduler) VerifyAll(ctx context.Context, artifacts []mojang.Artifact) (*Report, error) {
	report := &Report{Total: len(artifacts)}
	if len(artifacts) == 0 {
		return report, nil
	}

	runID := uuid.NewString()
	s.logger.Info("verify: starting", "count", len(artifacts), "workers", s.workers, "run_id", runID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var mu sync.Mutex
	done := 0

	for i := range artifacts {
		artifact := &artifacts[i]
		g.Go(func() error {
			result := s.verifyOne(gctx, artifact, runID)

			mu.Lock()
			defer mu.Unlock()

			done++
			s.settle(report, artifact, result)

			if s.onProgress != nil {
				s.onProgress(done, report.Total)
			}

			return nil
		})
	}

	_ = g.Wait()

	s.logger.Info("verify: complete",
		"verified", report.Reused,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"run_id", runID)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	return report, nil
}

// verifyOne hashes a single artifact and reconciles its ledger entry.
func (s *Scheduler) verifyOne(ctx context.Context, artifact *mojang.Artifact, runID string) outcome {
	if ctx.Err() != nil {
		return outcome{skipped: true}
	}

	localPath := filepath.Join(s.root, filepath.FromSlash(artifact.Path))

	got, err := integrity.DigestFile(localPath)
	if err != nil {
		s.forgetLedgerEntry(ctx, artifact.Path)
		return outcome{err: err}
	}

	if !integrity.Equal(got, artifact.SHA1) {
		s.forgetLedgerEntry(ctx, artifact.Path)
		return outcome{err: &integrity.MismatchError{Path: artifact.Path, Want: artifact.SHA1, Got: got}}
	}

	s.recordVerification(ctx, artifact, localPath, runID)

	return outcome{reused: true}
}

func (s *Scheduler) forgetLedgerEntry(ctx context.Context, path string) {
	if s.ledger == nil {
		return
	}

	if err := s.ledger.Forget(ctx, path); err != nil {
		s.logger.Debug("fetch: ledger forget failed", "path", path, "error", err)
	}
}
