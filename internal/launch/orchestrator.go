// Package launch sequences the launch preparation pipeline: obtain a
// valid session, resolve the requested version into its artifact set,
// and bring every artifact to a verified state on disk. Only when all
// three stages succeed does a LaunchContext exist; the game process is
// then assembled and started from it.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lodestone-mc/lodestone/internal/auth"
	"github.com/lodestone-mc/lodestone/internal/fetch"
	"github.com/lodestone-mc/lodestone/internal/mojang"
)

// Pipeline stages, used to attribute a prepare failure.
const (
	StageAuth    = "auth"
	StageResolve = "resolve"
	StageFetch   = "fetch"
)

// maxListedFailures bounds how many failed artifacts a PrepareError
// names in its message; the full list stays in the report.
const maxListedFailures = 5

// PrepareError attributes a failed prepare operation to one pipeline
// stage. For the fetch stage, Report carries the per-artifact outcomes.
type PrepareError struct {
	Stage  string
	Err    error
	Report *fetch.Report
}

func (e *PrepareError) Error() string {
	if e.Stage != StageFetch || e.Report == nil {
		return fmt.Sprintf("prepare: %s: %v", e.Stage, e.Err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "prepare: %d of %d artifacts failed", e.Report.Failed, e.Report.Total)

	for i, f := range e.Report.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "; and %d more", len(e.Report.Failures)-maxListedFailures)
			break
		}

		fmt.Fprintf(&b, "; %s: %v", f.Artifact.Path, f.Err)
	}

	return b.String()
}

func (e *PrepareError) Unwrap() error {
	return e.Err
}

// ErrArtifactsFailed is wrapped by fetch-stage PrepareErrors so callers
// can match the failure class without digging into the report.
var ErrArtifactsFailed = errors.New("launch: artifacts failed verification")

// Context is the output of a successful prepare: everything the
// process-spawn step needs.
type Context struct {
	Session    *auth.Session
	Resolution *mojang.Resolution
	Report     *fetch.Report
	DataDir    string
}

// Options tune one prepare operation.
type Options struct {
	// SkipVerification trusts any existing file whose size matches the
	// expected size instead of hashing it. Missing and size-mismatched
	// files are still fetched and verified.
	SkipVerification bool
}

// TokenSource yields a currently valid session. Implemented by
// auth.Broker.
type TokenSource interface {
	ObtainValidToken(ctx context.Context) (*auth.Session, error)
}

// Resolver expands a version id into its artifact set. Implemented by
// mojang.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, versionID string) (*mojang.Resolution, error)
}

// Fetcher materializes and audits artifacts on disk. Implemented by
// fetch.Scheduler.
type Fetcher interface {
	FetchAll(ctx context.Context, artifacts []mojang.Artifact) (*fetch.Report, error)
	VerifyAll(ctx context.Context, artifacts []mojang.Artifact) (*fetch.Report, error)
}

// Orchestrator runs the preparation pipeline. Each stage owns its own
// retry policy; the orchestrator only sequences them and fails fast at
// the first stage that cannot complete.
type Orchestrator struct {
	broker    TokenSource
	resolver  Resolver
	scheduler Fetcher
	dataDir   string
	logger    *slog.Logger
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(broker TokenSource, resolver Resolver, scheduler Fetcher, dataDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		broker:    broker,
		resolver:  resolver,
		scheduler: scheduler,
		dataDir:   dataDir,
		logger:    logger,
	}
}

// Prepare turns a version id into a ready launch context: valid
// session, resolved artifact set, every artifact verified on disk. A
// failure in auth or resolution short-circuits before any download
// starts; download failures are aggregated so the returned error names
// every artifact that could not be materialized.
func (o *Orchestrator) Prepare(ctx context.Context, versionID string, opts Options) (*Context, error) {
	sess, err := o.broker.ObtainValidToken(ctx)
	if err != nil {
		return nil, &PrepareError{Stage: StageAuth, Err: err}
	}

	res, err := o.resolver.Resolve(ctx, versionID)
	if err != nil {
		return nil, &PrepareError{Stage: StageResolve, Err: err}
	}

	if err := o.writeDescriptor(res); err != nil {
		return nil, &PrepareError{Stage: StageResolve, Err: err}
	}

	artifacts := res.Artifacts
	if opts.SkipVerification {
		artifacts = o.missingBySize(res.Artifacts)
		o.logger.Info("skipping digest verification of present files",
			slog.Int("present", len(res.Artifacts)-len(artifacts)),
			slog.Int("to_fetch", len(artifacts)))
	}

	report, err := o.scheduler.FetchAll(ctx, artifacts)
	if err != nil {
		return nil, &PrepareError{Stage: StageFetch, Err: err, Report: report}
	}

	if !report.Ok() {
		return nil, &PrepareError{Stage: StageFetch, Err: ErrArtifactsFailed, Report: report}
	}

	o.logger.Info("prepare complete",
		slog.String("version", res.VersionID),
		slog.Int("artifacts", len(res.Artifacts)),
		slog.Int("fetched", report.Fetched),
		slog.Int("reused", report.Reused))

	return &Context{
		Session:    sess,
		Resolution: res,
		Report:     report,
		DataDir:    o.dataDir,
	}, nil
}

// Verify re-checks every artifact of a version on disk without
// downloading anything. No session is needed.
func (o *Orchestrator) Verify(ctx context.Context, versionID string) (*mojang.Resolution, *fetch.Report, error) {
	res, err := o.resolver.Resolve(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}

	report, err := o.scheduler.VerifyAll(ctx, res.Artifacts)
	if err != nil {
		return res, report, err
	}

	return res, report, nil
}

// writeDescriptor stores the raw version descriptor next to the client
// jar so the version directory is self-describing. Written via temp
// file + rename like every other artifact.
func (o *Orchestrator) writeDescriptor(res *mojang.Resolution) error {
	dir := filepath.Join(o.dataDir, "versions", res.VersionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("launch: creating version directory: %w", err)
	}

	final := filepath.Join(dir, res.VersionID+".json")

	tmp, err := os.CreateTemp(dir, ".descriptor-*.tmp")
	if err != nil {
		return fmt.Errorf("launch: creating temp descriptor: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(res.RawDescriptor); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("launch: writing descriptor: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("launch: closing descriptor: %w", err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("launch: renaming descriptor: %w", err)
	}

	return nil
}

// missingBySize returns the artifacts that are absent or have the
// wrong size on disk. Used by the skip-verification fast path.
func (o *Orchestrator) missingBySize(artifacts []mojang.Artifact) []mojang.Artifact {
	var out []mojang.Artifact

	for _, a := range artifacts {
		fi, err := os.Stat(filepath.Join(o.dataDir, filepath.FromSlash(a.Path)))
		if err != nil || fi.Size() != a.Size {
			out = append(out, a)
		}
	}

	return out
}
