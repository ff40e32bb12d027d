package launch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-mc/lodestone/internal/auth"
	"github.com/lodestone-mc/lodestone/internal/fetch"
	"github.com/lodestone-mc/lodestone/internal/mojang"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTokenSource struct {
	sess  *auth.Session
	err   error
	calls int
}

func (f *fakeTokenSource) ObtainValidToken(context.Context) (*auth.Session, error) {
	f.calls++
	return f.sess, f.err
}

type fakeResolver struct {
	res   *mojang.Resolution
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (*mojang.Resolution, error) {
	f.calls++
	return f.res, f.err
}

type fakeFetcher struct {
	report  *fetch.Report
	err     error
	fetched [][]mojang.Artifact
}

func (f *fakeFetcher) FetchAll(_ context.Context, artifacts []mojang.Artifact) (*fetch.Report, error) {
	f.fetched = append(f.fetched, artifacts)
	return f.report, f.err
}

func (f *fakeFetcher) VerifyAll(_ context.Context, artifacts []mojang.Artifact) (*fetch.Report, error) {
	f.fetched = append(f.fetched, artifacts)
	return f.report, f.err
}

func testSession() *auth.Session {
	return &auth.Session{
		Minecraft: auth.GameToken{AccessToken: "game-token"},
		Profile:   auth.Profile{ID: "11111111222233334444555555555555", Name: "Steve"},
	}
}

func testResolution(artifacts ...mojang.Artifact) *mojang.Resolution {
	return &mojang.Resolution{
		VersionID:     "1.20.4",
		Platform:      mojang.Platform{OS: "linux", Arch: "x86_64"},
		RawDescriptor: []byte(`{"id":"1.20.4"}`),
		Descriptor: &mojang.Descriptor{
			ID:        "1.20.4",
			Type:      "release",
			MainClass: "net.minecraft.client.main.Main",
			Assets:    "12",
		},
		Artifacts: artifacts,
	}
}

func TestPrepareHappyPath(t *testing.T) {
	dataDir := t.TempDir()

	artifacts := []mojang.Artifact{{Path: "versions/1.20.4/1.20.4.jar", Size: 10}}
	tokens := &fakeTokenSource{sess: testSession()}
	resolver := &fakeResolver{res: testResolution(artifacts...)}
	fetcher := &fakeFetcher{report: &fetch.Report{Total: 1, Fetched: 1}}

	o := NewOrchestrator(tokens, resolver, fetcher, dataDir, testLogger())

	lc, err := o.Prepare(context.Background(), "1.20.4", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Steve", lc.Session.Profile.Name)
	assert.Equal(t, "1.20.4", lc.Resolution.VersionID)
	assert.Equal(t, 1, lc.Report.Fetched)

	// Causal order: auth, then resolve, then fetch of exactly the
	// resolved set.
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, 1, resolver.calls)
	require.Len(t, fetcher.fetched, 1)
	assert.Equal(t, artifacts, fetcher.fetched[0])

	// The raw descriptor was written into the version directory.
	data, err := os.ReadFile(filepath.Join(dataDir, "versions", "1.20.4", "1.20.4.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1.20.4"}`, string(data))
}

func TestPrepareAuthFailureShortCircuits(t *testing.T) {
	tokens := &fakeTokenSource{err: auth.ErrNoProfile}
	resolver := &fakeResolver{}
	fetcher := &fakeFetcher{}

	o := NewOrchestrator(tokens, resolver, fetcher, t.TempDir(), testLogger())

	_, err := o.Prepare(context.Background(), "1.20.4", Options{})

	var prepErr *PrepareError
	require.ErrorAs(t, err, &prepErr)
	assert.Equal(t, StageAuth, prepErr.Stage)
	assert.ErrorIs(t, err, auth.ErrNoProfile)

	// Nothing downstream ran.
	assert.Zero(t, resolver.calls)
	assert.Empty(t, fetcher.fetched)
}

func TestPrepareResolveFailureShortCircuits(t *testing.T) {
	tokens := &fakeTokenSource{sess: testSession()}
	resolver := &fakeResolver{err: mojang.ErrVersionNotFound}
	fetcher := &fakeFetcher{}

	o := NewOrchestrator(tokens, resolver, fetcher, t.TempDir(), testLogger())

	_, err := o.Prepare(context.Background(), "9.9.9", Options{})

	var prepErr *PrepareError
	require.ErrorAs(t, err, &prepErr)
	assert.Equal(t, StageResolve, prepErr.Stage)
	assert.ErrorIs(t, err, mojang.ErrVersionNotFound)
	assert.Empty(t, fetcher.fetched)
}

func TestPrepareFetchFailuresAggregate(t *testing.T) {
	artifacts := []mojang.Artifact{
		{Path: "libraries/ok.jar"},
		{Path: "libraries/bad.jar"},
	}

	report := &fetch.Report{
		Total:   2,
		Fetched: 1,
		Failed:  1,
		Failures: []fetch.Failure{
			{Artifact: artifacts[1], Err: errors.New("digest mismatch")},
		},
	}

	o := NewOrchestrator(
		&fakeTokenSource{sess: testSession()},
		&fakeResolver{res: testResolution(artifacts...)},
		&fakeFetcher{report: report},
		t.TempDir(), testLogger())

	_, err := o.Prepare(context.Background(), "1.20.4", Options{})

	var prepErr *PrepareError
	require.ErrorAs(t, err, &prepErr)
	assert.Equal(t, StageFetch, prepErr.Stage)
	assert.ErrorIs(t, err, ErrArtifactsFailed)
	require.NotNil(t, prepErr.Report)
	assert.Equal(t, 1, prepErr.Report.Failed)
	assert.Contains(t, err.Error(), "libraries/bad.jar")
}

func TestPrepareSkipVerificationFetchesOnlyMissing(t *testing.T) {
	dataDir := t.TempDir()

	present := mojang.Artifact{Path: "libraries/present.jar", Size: 4}
	wrongSize := mojang.Artifact{Path: "libraries/short.jar", Size: 100}
	missing := mojang.Artifact{Path: "libraries/missing.jar", Size: 4}

	libDir := filepath.Join(dataDir, "libraries")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "present.jar"), []byte("good"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "short.jar"), []byte("xy"), 0o644))

	fetcher := &fakeFetcher{report: &fetch.Report{Total: 2, Fetched: 2}}

	o := NewOrchestrator(
		&fakeTokenSource{sess: testSession()},
		&fakeResolver{res: testResolution(present, wrongSize, missing)},
		fetcher,
		dataDir, testLogger())

	_, err := o.Prepare(context.Background(), "1.20.4", Options{SkipVerification: true})
	require.NoError(t, err)

	require.Len(t, fetcher.fetched, 1)
	assert.Equal(t, []mojang.Artifact{wrongSize, missing}, fetcher.fetched[0])
}

func TestVerifyNeedsNoSession(t *testing.T) {
	artifacts := []mojang.Artifact{{Path: "libraries/a.jar"}}
	tokens := &fakeTokenSource{err: errors.New("must not be called")}
	fetcher := &fakeFetcher{report: &fetch.Report{Total: 1, Reused: 1}}

	o := NewOrchestrator(tokens, &fakeResolver{res: testResolution(artifacts...)}, fetcher, t.TempDir(), testLogger())

	res, report, err := o.Verify(context.Background(), "1.20.4")
	require.NoError(t, err)
	assert.Equal(t, "1.20.4", res.VersionID)
	assert.Equal(t, 1, report.Reused)
	assert.Zero(t, tokens.calls)
}
