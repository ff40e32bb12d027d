// Package integrity computes and compares content digests for launcher
// artifacts. Every artifact the download pipeline touches is published with
// a lowercase hex SHA-1 digest; cache-hit detection and post-download
// validation both go through this package so they share one notion of
// "correct content".
package integrity

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the digest algorithm the artifact APIs publish, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ErrMismatch is the sentinel for digest verification failures.
// Use errors.Is(err, integrity.ErrMismatch) to check.
var ErrMismatch = errors.New("integrity: digest mismatch")

// MismatchError reports a failed verification with both digests, so the
// caller can show exactly what was expected and what was found.
type MismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity: %s: digest mismatch: want %s, got %s", e.Path, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// NewHash returns a fresh hash instance for streaming digest computation,
// for callers that hash while writing (io.MultiWriter). Finish with
// Encode(h.Sum(nil)).
func NewHash() hash.Hash {
	return sha1.New() //nolint:gosec // see package comment
}

// Encode renders a digest sum in the canonical lowercase hex form.
func Encode(sum []byte) string {
	return hex.EncodeToString(sum)
}

// Digest computes the lowercase hex SHA-1 digest of everything read from r.
// Streaming I/O (constant memory).
func Digest(r io.Reader) (string, error) {
	h := NewHash()

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("integrity: hashing stream: %w", err)
	}

	return Encode(h.Sum(nil)), nil
}

// DigestFile computes the digest of a file's contents.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := NewHash()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("integrity: hashing %s: %w", path, err)
	}

	return Encode(h.Sum(nil)), nil
}

// Equal reports whether two hex digests refer to the same content.
// Comparison is case-insensitive; upstream metadata is not consistent
// about digest casing.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// VerifyFile checks the file at path against the expected digest. Returns
// nil on a match, a *MismatchError (wrapping ErrMismatch) when the content
// differs, and the underlying I/O error (wrapping fs.ErrNotExist for a
// missing file) when the file cannot be read.
func VerifyFile(path, want string) error {
	got, err := DigestFile(path)
	if err != nil {
		return err
	}

	if !Equal(got, want) {
		return &MismatchError{Path: path, Want: want, Got: got}
	}

	return nil
}
