package mojang

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/lodestone-mc/lodestone/internal/integrity"
)

// ArtifactKind classifies a resolved artifact.
type ArtifactKind int

const (
	KindClient ArtifactKind = iota
	KindLibrary
	KindNative
	KindAssetIndex
	KindAsset
)

func (k ArtifactKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindLibrary:
		return "library"
	case KindNative:
		return "native"
	case KindAssetIndex:
		return "asset-index"
	case KindAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// Artifact is one file the game needs on disk. Path is slash-separated
// and relative to the data directory; SHA1 is the expected digest of the
// file content.
type Artifact struct {
	Path string
	URL  string
	SHA1 string
	Size int64
	Kind ArtifactKind
}

// Resolution is the complete, platform-filtered artifact set for one
// version, in deterministic order: client jar, then libraries and natives
// in descriptor order, then the asset index, then asset objects sorted by
// logical name.
type Resolution struct {
	VersionID     string
	Platform      Platform
	Descriptor    *Descriptor
	RawDescriptor []byte
	AssetIndex    *AssetIndex
	Artifacts     []Artifact
}

// ByKind returns the artifacts of one kind, preserving resolution order.
func (r *Resolution) ByKind(kind ArtifactKind) []Artifact {
	var out []Artifact
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}

	return out
}

// ClientJarPath returns the logical path of the version's client jar.
func (r *Resolution) ClientJarPath() string {
	return clientJarPath(r.VersionID)
}

// JavaMajor returns the major Java version the descriptor asks for, or 0
// when the descriptor does not say.
func (r *Resolution) JavaMajor() int {
	if r.Descriptor.JavaVersion == nil {
		return 0
	}

	return r.Descriptor.JavaVersion.MajorVersion
}

func clientJarPath(id string) string {
	return path.Join("versions", id, id+".jar")
}

// Resolver expands version ids into artifact sets. The top-level manifest
// is fetched once and memoized for the lifetime of the resolver.
type Resolver struct {
	client   *Client
	platform Platform
	logger   *slog.Logger

	mu       sync.Mutex
	manifest *Manifest
}

// NewResolver creates a resolver for the given platform.
func NewResolver(client *Client, platform Platform, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:   client,
		platform: platform,
		logger:   logger,
	}
}

// Manifest returns the memoized top-level version manifest, fetching it
// on first use.
func (r *Resolver) Manifest(ctx context.Context) (*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.manifest != nil {
		return r.manifest, nil
	}

	m, err := r.client.Manifest(ctx)
	if err != nil {
		return nil, err
	}

	r.manifest = m

	return m, nil
}

// Resolve expands a version id (or alias) into the full artifact set for
// the resolver's platform.
func (r *Resolver) Resolve(ctx context.Context, versionID string) (*Resolution, error) {
	m, err := r.Manifest(ctx)
	if err != nil {
		return nil, err
	}

	id := m.ResolveAlias(versionID)

	entry, ok := m.Find(id)
	if !ok {
		return nil, fmt.Errorf("mojang: version %q: %w", versionID, ErrVersionNotFound)
	}

	// Version ids become path segments under the data directory.
	if err := checkPathSegment(id); err != nil {
		return nil, err
	}

	raw, err := r.client.GetBytes(ctx, entry.URL)
	if err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("mojang: decoding descriptor for %q: %w: %w", id, ErrMalformed, err)
	}

	if err := validateDescriptor(&desc); err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(desc.Libraries)+2)
	seen := make(map[string]struct{})

	add := func(a Artifact) error {
		rel, err := safeRelPath(a.Path)
		if err != nil {
			return err
		}
		a.Path = rel

		if _, dup := seen[a.Path]; dup {
			return nil
		}
		seen[a.Path] = struct{}{}

		artifacts = append(artifacts, a)

		return nil
	}

	if err := add(Artifact{
		Path: clientJarPath(id),
		URL:  desc.Downloads.Client.URL,
		SHA1: desc.Downloads.Client.SHA1,
		Size: desc.Downloads.Client.Size,
		Kind: KindClient,
	}); err != nil {
		return nil, err
	}

	for i := range desc.Libraries {
		lib := &desc.Libraries[i]

		if !lib.AppliesTo(r.platform) {
			r.logger.Debug("library excluded by rules", "library", lib.Name, "os", r.platform.OS)
			continue
		}

		if lib.Downloads == nil {
			r.logger.Debug("library has no downloads section", "library", lib.Name)
			continue
		}

		if art := lib.Downloads.Artifact; art != nil {
			rel, err := libraryRelPath(lib.Name, "", art)
			if err != nil {
				return nil, err
			}

			if err := add(Artifact{
				Path: path.Join("libraries", rel),
				URL:  art.URL,
				SHA1: art.SHA1,
				Size: art.Size,
				Kind: KindLibrary,
			}); err != nil {
				return nil, err
			}
		}

		if key, ok := lib.NativeClassifier(r.platform); ok {
			info, found := lib.Downloads.Classifiers[key]
			if !found {
				r.logger.Debug("native classifier not published", "library", lib.Name, "classifier", key)
				continue
			}

			rel, err := libraryRelPath(lib.Name, key, &info)
			if err != nil {
				return nil, err
			}

			if err := add(Artifact{
				Path: path.Join("libraries", rel),
				URL:  info.URL,
				SHA1: info.SHA1,
				Size: info.Size,
				Kind: KindNative,
			}); err != nil {
				return nil, err
			}
		}
	}

	index, indexArtifact, err := r.fetchAssetIndex(ctx, &desc.AssetIndex)
	if err != nil {
		return nil, err
	}

	if err := add(*indexArtifact); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(index.Objects))
	for name := range index.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		obj := index.Objects[name]

		prefix, err := objectPrefix(obj.Hash)
		if err != nil {
			return nil, fmt.Errorf("mojang: asset %q: %w", name, err)
		}

		url, err := AssetObjectURL(obj.Hash)
		if err != nil {
			return nil, err
		}

		if err := add(Artifact{
			Path: path.Join("assets", "objects", prefix, obj.Hash),
			URL:  url,
			SHA1: obj.Hash,
			Size: obj.Size,
			Kind: KindAsset,
		}); err != nil {
			return nil, err
		}
	}

	res := &Resolution{
		VersionID:     id,
		Platform:      r.platform,
		Descriptor:    &desc,
		RawDescriptor: raw,
		AssetIndex:    index,
		Artifacts:     artifacts,
	}

	r.logger.Info("resolved version",
		"version", id,
		"artifacts", len(artifacts),
		"libraries", len(res.ByKind(KindLibrary)),
		"natives", len(res.ByKind(KindNative)),
		"assets", len(res.ByKind(KindAsset)))

	return res, nil
}

// fetchAssetIndex downloads the asset index, verifies it against the
// descriptor's digest, and parses it.
func (r *Resolver) fetchAssetIndex(ctx context.Context, ref *AssetIndexRef) (*AssetIndex, *Artifact, error) {
	if err := checkPathSegment(ref.ID); err != nil {
		return nil, nil, err
	}

	raw, err := r.client.GetBytes(ctx, ref.URL)
	if err != nil {
		return nil, nil, err
	}

	got, err := integrity.Digest(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("mojang: hashing asset index %q: %w", ref.ID, err)
	}
	if !integrity.Equal(got, ref.SHA1) {
		return nil, nil, &integrity.MismatchError{Path: ref.URL, Want: ref.SHA1, Got: got}
	}

	var index AssetIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, nil, fmt.Errorf("mojang: decoding asset index %q: %w: %w", ref.ID, ErrMalformed, err)
	}
	if index.Objects == nil {
		return nil, nil, fmt.Errorf("mojang: asset index %q has no objects: %w", ref.ID, ErrMalformed)
	}

	artifact := &Artifact{
		Path: path.Join("assets", "indexes", ref.ID+".json"),
		URL:  ref.URL,
		SHA1: ref.SHA1,
		Size: ref.Size,
		Kind: KindAssetIndex,
	}

	return &index, artifact, nil
}

// NativeJar locates one native library jar on disk together with the
// path prefixes to skip when unpacking it.
type NativeJar struct {
	Library string
	Path    string // relative to the artifact root
	Exclude []string
}

// NativeJars lists the resolution's native jars in descriptor order,
// paired with their extraction exclusions.
func (r *Resolution) NativeJars() ([]NativeJar, error) {
	var out []NativeJar

	for i := range r.Descriptor.Libraries {
		lib := &r.Descriptor.Libraries[i]

		if !lib.AppliesTo(r.Platform) || lib.Downloads == nil {
			continue
		}

		key, ok := lib.NativeClassifier(r.Platform)
		if !ok {
			continue
		}

		info, found := lib.Downloads.Classifiers[key]
		if !found {
			continue
		}

		rel, err := libraryRelPath(lib.Name, key, &info)
		if err != nil {
			return nil, err
		}

		var exclude []string
		if lib.Extract != nil {
			exclude = lib.Extract.Exclude
		}

		out = append(out, NativeJar{
			Library: lib.Name,
			Path:    path.Join("libraries", rel),
			Exclude: exclude,
		})
	}

	return out, nil
}

// libraryRelPath picks the descriptor-provided relative path for a
// library artifact, falling back to the maven-derived path when absent.
func libraryRelPath(name, classifier string, info *ArtifactInfo) (string, error) {
	if info.URL == "" || info.SHA1 == "" {
		return "", fmt.Errorf("mojang: library %q missing url or sha1: %w", name, ErrMalformed)
	}

	if info.Path != "" {
		return info.Path, nil
	}

	coord := name
	if classifier != "" {
		coord += ":" + classifier
	}

	return MavenPath(coord)
}

// checkPathSegment rejects ids that cannot be used as a single path
// segment.
func checkPathSegment(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("mojang: unusable id %q: %w", id, ErrMalformed)
	}

	return nil
}

// safeRelPath normalizes a slash-separated relative path and rejects
// anything escaping the artifact root.
func safeRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("mojang: empty artifact path: %w", ErrMalformed)
	}

	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("mojang: unsafe artifact path %q: %w", p, ErrMalformed)
	}

	return cleaned, nil
}
