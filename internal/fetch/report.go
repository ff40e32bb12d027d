package fetch

import "github.com/lodestone-mc/lodestone/internal/mojang"

// Failure records one artifact that could not be fetched or verified,
// with the final error after retries were exhausted.
type Failure struct {
	Artifact mojang.Artifact
	Err      error
}

// Report summarizes one scheduler run. Counters are only written while
// the run's mutex is held; the returned value is safe to read once
// FetchAll or VerifyAll has returned.
type Report struct {
	Total        int
	Fetched      int // downloaded and verified this run
	Reused       int // verified from already-present files
	Failed       int
	Skipped      int // not attempted because the run was canceled
	BytesFetched int64
	Failures     []Failure
}

// Verified returns how many artifacts are known-good on disk after the
// run, whether freshly fetched or reused.
func (r *Report) Verified() int {
	return r.Fetched + r.Reused
}

// Ok reports whether every artifact was verified.
func (r *Report) Ok() bool {
	return r.Failed == 0 && r.Skipped == 0
}
