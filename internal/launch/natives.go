package launch

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lodestone-mc/lodestone/internal/mojang"
)

// ExtractNatives unpacks every native library jar of the resolution
// into versions/<id>/natives and returns that directory. Entries
// matching the library's exclusion prefixes (and META-INF) are
// skipped. Extraction runs after the fetch phase, so every jar is
// already verified on disk.
func ExtractNatives(res *mojang.Resolution, dataDir string, logger *slog.Logger) (string, error) {
	dir := nativesDir(dataDir, res.VersionID)

	jars, err := res.NativeJars()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("launch: creating natives directory: %w", err)
	}

	for _, jar := range jars {
		jarPath := filepath.Join(dataDir, filepath.FromSlash(jar.Path))

		n, err := extractJar(jarPath, dir, jar.Exclude)
		if err != nil {
			return "", fmt.Errorf("launch: extracting natives from %s: %w", jar.Library, err)
		}

		logger.Debug("extracted natives",
			slog.String("library", jar.Library),
			slog.Int("files", n))
	}

	return dir, nil
}

// extractJar unpacks one jar into destDir, returning the number of
// files written.
func extractJar(jarPath, destDir string, exclude []string) (int, error) {
	archive, err := zip.OpenReader(jarPath)
	if err != nil {
		return 0, err
	}
	defer archive.Close()

	written := 0

	for _, entry := range archive.File {
		name := entry.Name

		if entry.FileInfo().IsDir() || strings.HasPrefix(name, "META-INF/") {
			continue
		}

		if excluded(name, exclude) {
			continue
		}

		if err := extractEntry(entry, destDir); err != nil {
			return written, err
		}

		written++
	}

	return written, nil
}

// extractEntry writes one archive entry under destDir, rejecting
// entries whose name would escape it.
func extractEntry(entry *zip.File, destDir string) error {
	cleaned := path.Clean(entry.Name)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("archive entry %q escapes extraction directory", entry.Name)
	}

	destPath := filepath.Join(destDir, filepath.FromSlash(cleaned))

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", cleaned, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", cleaned, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", cleaned, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("writing %s: %w", cleaned, err)
	}

	return dst.Close()
}

// excluded reports whether an archive entry matches any exclusion
// prefix.
func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasPrefix(name, pattern) {
			return true
		}
	}

	return false
}

func nativesDir(dataDir, versionID string) string {
	return filepath.Join(dataDir, "versions", versionID, "natives")
}
