// Package java discovers installed Java runtimes and picks one
// suitable for a given game version. Discovery probes JAVA_HOME, the
// PATH, and well-known install roots by running `java -version` and
// parsing the reported version.
package java

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// probeTimeout bounds one `java -version` invocation.
const probeTimeout = 10 * time.Second

// ErrNoInstallations means discovery found no usable Java runtime.
var ErrNoInstallations = errors.New("java: no installations found")

// Installation is one discovered Java runtime.
type Installation struct {
	Path    string
	Version *semver.Version
}

// Major returns the runtime's major version (8, 11, 17, 21, ...).
func (i Installation) Major() int {
	return int(i.Version.Major())
}

// versionRe extracts the quoted version string from `java -version`
// output, e.g. `openjdk version "17.0.4"` or `java version "1.8.0_333"`.
var versionRe = regexp.MustCompile(`version "([^"]+)"`)

// snapshotRe matches snapshot version ids such as "24w14a".
var snapshotRe = regexp.MustCompile(`^(\d{2})w\d{2}[a-z]$`)

// Discoverer finds Java installations. The probing functions are
// injectable so tests run without a JVM.
type Discoverer struct {
	logger *slog.Logger

	runVersion func(ctx context.Context, path string) (string, error)
	lookPath   func(file string) (string, error)
	getenv     func(key string) string
	roots      []string
}

// NewDiscoverer creates a discoverer probing the platform's standard
// locations.
func NewDiscoverer(logger *slog.Logger) *Discoverer {
	return &Discoverer{
		logger:     logger,
		runVersion: runJavaVersion,
		lookPath:   exec.LookPath,
		getenv:     os.Getenv,
		roots:      platformRoots(),
	}
}

// Discover probes all known locations and returns one installation per
// major version, sorted ascending. Earlier sources win on duplicate
// majors: JAVA_HOME, then PATH, then install roots.
func (d *Discoverer) Discover(ctx context.Context) []Installation {
	byMajor := make(map[int]Installation)

	record := func(inst Installation, source string) {
		if _, ok := byMajor[inst.Major()]; ok {
			return
		}

		d.logger.Debug("found java runtime",
			slog.String("path", inst.Path),
			slog.String("version", inst.Version.String()),
			slog.String("source", source))

		byMajor[inst.Major()] = inst
	}

	if home := d.getenv("JAVA_HOME"); home != "" {
		if inst, err := d.Probe(ctx, filepath.Join(home, "bin", executableName())); err == nil {
			record(inst, "JAVA_HOME")
		}
	}

	if path, err := d.lookPath(executableName()); err == nil {
		if inst, err := d.Probe(ctx, path); err == nil {
			record(inst, "PATH")
		}
	}

	for _, root := range d.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			candidate := filepath.Join(root, entry.Name(), "bin", executableName())
			if runtime.GOOS == "darwin" {
				// macOS JDK bundles nest the runtime under Contents/Home.
				candidate = filepath.Join(root, entry.Name(), "Contents", "Home", "bin", "java")
			}

			if inst, err := d.Probe(ctx, candidate); err == nil {
				record(inst, root)
			}
		}
	}

	out := make([]Installation, 0, len(byMajor))
	for _, inst := range byMajor {
		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version.LessThan(out[j].Version) })

	return out
}

// Probe runs `-version` against one java executable and parses the
// result.
func (d *Discoverer) Probe(ctx context.Context, javaPath string) (Installation, error) {
	if _, err := os.Stat(javaPath); err != nil {
		return Installation{}, fmt.Errorf("java: executable %s: %w", javaPath, err)
	}

	out, err := d.runVersion(ctx, javaPath)
	if err != nil {
		return Installation{}, fmt.Errorf("java: probing %s: %w", javaPath, err)
	}

	v, err := ParseVersionOutput(out)
	if err != nil {
		return Installation{}, fmt.Errorf("java: probing %s: %w", javaPath, err)
	}

	return Installation{Path: javaPath, Version: v}, nil
}

// runJavaVersion executes `java -version`, which prints to stderr.
func runJavaVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// ParseVersionOutput extracts the runtime version from `java -version`
// output. The legacy "1.8.0_333" scheme maps to major 8; the modern
// scheme ("17.0.4", "21-ea") parses directly.
func ParseVersionOutput(out string) (*semver.Version, error) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("java: no version string in output %q", firstLine(out))
	}

	raw := m[1]

	if strings.HasPrefix(raw, "1.") {
		parts := strings.Split(raw, ".")
		if len(parts) < 2 {
			return nil, fmt.Errorf("java: unparseable legacy version %q", raw)
		}

		major, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("java: unparseable legacy version %q", raw)
		}

		return semver.New(uint64(major), 0, 0, "", ""), nil
	}

	// Drop update suffixes and any dotted segments beyond
	// major.minor.patch ("11.0.16.1" style vendor versions).
	raw, _, _ = strings.Cut(raw, "_")
	if parts := strings.Split(raw, "."); len(parts) > 3 {
		raw = strings.Join(parts[:3], ".")
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("java: unparseable version %q: %w", m[1], err)
	}

	return v, nil
}

// RequiredMajor maps a game version id to the Java major version it
// needs. Snapshots map by their year prefix; unknown shapes default to
// a recent runtime.
func RequiredMajor(versionID string) int {
	major, minor, ok := parseGameVersion(versionID)
	if !ok {
		return 17
	}

	switch {
	case major != 1:
		return 17
	case minor >= 21:
		return 21
	case minor >= 18:
		return 17
	case minor == 17:
		return 16
	case minor == 16:
		return 11
	default:
		return 8
	}
}

// parseGameVersion extracts (major, minor) from a release id such as
// "1.20.4", or maps a snapshot id such as "24w14a" onto the release it
// leads up to.
func parseGameVersion(versionID string) (int, int, bool) {
	if m := snapshotRe.FindStringSubmatch(versionID); m != nil {
		year, _ := strconv.Atoi(m[1])

		switch {
		case year >= 24:
			return 1, 21, true
		case year == 23:
			return 1, 20, true
		case year == 22:
			return 1, 19, true
		default:
			return 1, 21, true
		}
	}

	parts := strings.Split(versionID, ".")
	if len(parts) < 2 {
		return 0, 0, false
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}

	return major, minor, true
}

// Select picks the installation to launch with: the exact required
// major when installed, otherwise the lowest newer major, otherwise
// the newest installed runtime. The bool reports whether the pick
// satisfies the requirement.
func Select(installations []Installation, requiredMajor int) (Installation, bool, error) {
	if len(installations) == 0 {
		return Installation{}, false, fmt.Errorf("%w (need Java %d or newer)", ErrNoInstallations, requiredMajor)
	}

	sorted := make([]Installation, len(installations))
	copy(sorted, installations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version.LessThan(sorted[j].Version) })

	for _, inst := range sorted {
		if inst.Major() == requiredMajor {
			return inst, true, nil
		}
	}

	for _, inst := range sorted {
		if inst.Major() > requiredMajor {
			return inst, true, nil
		}
	}

	return sorted[len(sorted)-1], false, nil
}

func executableName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}

	return "java"
}

// platformRoots lists the conventional JDK install directories per OS.
func platformRoots() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Java`,
			`C:\Program Files (x86)\Java`,
			`C:\Program Files\Eclipse Adoptium`,
			`C:\Program Files\AdoptOpenJDK`,
		}
	case "darwin":
		return []string{
			"/Library/Java/JavaVirtualMachines",
			"/System/Library/Java/JavaVirtualMachines",
		}
	default:
		return []string{"/usr/lib/jvm", "/usr/java", "/opt/java", "/opt/jdk"}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
