package mojang

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Rule actions.
const (
	ActionAllow    = "allow"
	ActionDisallow = "disallow"
)

// librariesBaseURL is the fallback host for libraries whose descriptor
// entry carries no explicit download URL.
const librariesBaseURL = "https://libraries.minecraft.net"

// Descriptor is the full per-version document describing everything a
// version needs: the client jar, libraries, the asset index, and how to
// assemble the launch command.
type Descriptor struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	MainClass          string          `json:"mainClass"`
	Assets             string          `json:"assets"`
	AssetIndex         AssetIndexRef   `json:"assetIndex"`
	Downloads          Downloads       `json:"downloads"`
	Libraries          []Library       `json:"libraries"`
	Arguments          *Arguments      `json:"arguments,omitempty"`
	MinecraftArguments string          `json:"minecraftArguments,omitempty"`
	JavaVersion        *JavaVersionRef `json:"javaVersion,omitempty"`
	ReleaseTime        string          `json:"releaseTime,omitempty"`
}

// Downloads holds the executable jars published for a version.
type Downloads struct {
	Client *DownloadInfo `json:"client"`
	Server *DownloadInfo `json:"server,omitempty"`
}

// DownloadInfo describes one downloadable file with its expected digest.
type DownloadInfo struct {
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// AssetIndexRef points at the asset index document for a version.
type AssetIndexRef struct {
	ID        string `json:"id"`
	SHA1      string `json:"sha1"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	URL       string `json:"url"`
}

// Library is one dependency entry. Rules decide whether the entry applies
// to the current platform; Natives maps an OS name to the classifier key
// holding that platform's native jar.
type Library struct {
	Name      string            `json:"name"`
	Downloads *LibraryDownloads `json:"downloads,omitempty"`
	Rules     []Rule            `json:"rules,omitempty"`
	Natives   map[string]string `json:"natives,omitempty"`
	Extract   *ExtractRules     `json:"extract,omitempty"`
}

// LibraryDownloads holds the main artifact and any per-platform
// classifier artifacts of a library.
type LibraryDownloads struct {
	Artifact    *ArtifactInfo           `json:"artifact,omitempty"`
	Classifiers map[string]ArtifactInfo `json:"classifiers,omitempty"`
}

// ArtifactInfo describes one library file. Path is relative to the
// libraries root and slash-separated.
type ArtifactInfo struct {
	Path string `json:"path"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// ExtractRules lists path prefixes to skip when unpacking a native jar.
type ExtractRules struct {
	Exclude []string `json:"exclude,omitempty"`
}

// Rule is one allow/disallow condition on a library or argument.
type Rule struct {
	Action   string          `json:"action"`
	OS       *OSRule         `json:"os,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// OSRule matches against the running platform. Empty fields match
// anything. Version constraints are parsed but not evaluated.
type OSRule struct {
	Name    string `json:"name,omitempty"`
	Arch    string `json:"arch,omitempty"`
	Version string `json:"version,omitempty"`
}

// Arguments holds the modern argument lists. Entries are either plain
// strings or rule-guarded objects, so they stay raw until evaluation.
type Arguments struct {
	Game []json.RawMessage `json:"game,omitempty"`
	JVM  []json.RawMessage `json:"jvm,omitempty"`
}

// JavaVersionRef names the Java runtime a version wants.
type JavaVersionRef struct {
	Component    string `json:"component,omitempty"`
	MajorVersion int    `json:"majorVersion"`
}

// Platform identifies an operating system and architecture in the naming
// scheme the descriptors use.
type Platform struct {
	OS   string // "windows", "linux", or "osx"
	Arch string // "x86_64", "arm64", or "x86"
}

// CurrentPlatform maps the running Go platform onto descriptor naming.
func CurrentPlatform() Platform {
	p := Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}

	switch runtime.GOOS {
	case "darwin":
		p.OS = "osx"
	}

	switch runtime.GOARCH {
	case "amd64":
		p.Arch = "x86_64"
	case "386":
		p.Arch = "x86"
	}

	return p
}

// archBits returns the pointer-width suffix used in ${arch} classifier
// substitution.
func (p Platform) archBits() string {
	if p.Arch == "x86" {
		return "32"
	}

	return "64"
}

// Allowed evaluates a rule list against a platform. With no rules the
// answer is allow. With rules the default flips to disallow and the last
// matching rule wins. A rule that demands a feature matches only when
// that feature is enabled in features.
func Allowed(rules []Rule, p Platform, features map[string]bool) bool {
	if len(rules) == 0 {
		return true
	}

	allowed := false
	for _, rule := range rules {
		if !ruleMatches(rule, p, features) {
			continue
		}

		allowed = rule.Action == ActionAllow
	}

	return allowed
}

func ruleMatches(rule Rule, p Platform, features map[string]bool) bool {
	if rule.OS != nil {
		if rule.OS.Name != "" && rule.OS.Name != p.OS {
			return false
		}
		if rule.OS.Arch != "" && rule.OS.Arch != p.Arch {
			return false
		}
	}

	for name, want := range rule.Features {
		if features[name] != want {
			return false
		}
	}

	return true
}

// AppliesTo reports whether the library is needed on the given platform.
func (l *Library) AppliesTo(p Platform) bool {
	return Allowed(l.Rules, p, nil)
}

// NativeClassifier resolves the classifier key holding the native jar for
// the given platform, substituting ${arch} when present. Returns false
// when the library ships no natives for that platform.
func (l *Library) NativeClassifier(p Platform) (string, bool) {
	if len(l.Natives) == 0 {
		return "", false
	}

	key, ok := l.Natives[p.OS]
	if !ok {
		return "", false
	}

	return strings.ReplaceAll(key, "${arch}", p.archBits()), true
}

// MavenPath converts a maven coordinate such as
// "org.lwjgl:lwjgl:3.3.3" into the repository-relative path
// "org/lwjgl/lwjgl/3.3.3/lwjgl-3.3.3.jar". A fourth coordinate part is
// treated as a classifier suffix.
func MavenPath(name string) (string, error) {
	parts := strings.Split(name, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return "", fmt.Errorf("mojang: invalid maven coordinate %q: %w", name, ErrMalformed)
	}

	group, artifact, version := parts[0], parts[1], parts[2]
	if group == "" || artifact == "" || version == "" {
		return "", fmt.Errorf("mojang: invalid maven coordinate %q: %w", name, ErrMalformed)
	}

	file := artifact + "-" + version
	if len(parts) == 4 {
		file += "-" + parts[3]
	}
	file += ".jar"

	return strings.ReplaceAll(group, ".", "/") + "/" + artifact + "/" + version + "/" + file, nil
}

// validateDescriptor checks the fields the resolver cannot work without.
func validateDescriptor(d *Descriptor) error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if d.MainClass == "" {
		errs = append(errs, errors.New("missing mainClass"))
	}
	if d.Downloads.Client == nil {
		errs = append(errs, errors.New("missing downloads.client"))
	} else {
		if d.Downloads.Client.URL == "" {
			errs = append(errs, errors.New("missing downloads.client.url"))
		}
		if d.Downloads.Client.SHA1 == "" {
			errs = append(errs, errors.New("missing downloads.client.sha1"))
		}
	}
	if d.AssetIndex.ID == "" {
		errs = append(errs, errors.New("missing assetIndex.id"))
	}
	if d.AssetIndex.URL == "" {
		errs = append(errs, errors.New("missing assetIndex.url"))
	}
	if d.AssetIndex.SHA1 == "" {
		errs = append(errs, errors.New("missing assetIndex.sha1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("mojang: descriptor for %q: %w: %w", d.ID, ErrMalformed, errors.Join(errs...))
	}

	return nil
}
