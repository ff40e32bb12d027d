package mojang

import (
	"context"
	"time"
)

// ManifestURL is the endpoint serving the top-level version manifest.
const ManifestURL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"

// Version aliases accepted wherever a version id is expected.
const (
	AliasLatest         = "latest"
	AliasLatestRelease  = "latest-release"
	AliasLatestSnapshot = "latest-snapshot"
)

// Version channel values as they appear in the manifest.
const (
	TypeRelease  = "release"
	TypeSnapshot = "snapshot"
	TypeOldBeta  = "old_beta"
	TypeOldAlpha = "old_alpha"
)

// Manifest is the top-level catalogue of all published game versions.
type Manifest struct {
	Latest   LatestPointers  `json:"latest"`
	Versions []ManifestEntry `json:"versions"`
}

// LatestPointers names the newest release and snapshot version ids.
type LatestPointers struct {
	Release  string `json:"release"`
	Snapshot string `json:"snapshot"`
}

// ManifestEntry is one version listing in the manifest. URL points at the
// full per-version descriptor.
type ManifestEntry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	Time        time.Time `json:"time"`
	ReleaseTime time.Time `json:"releaseTime"`
}

// Manifest fetches and parses the top-level version manifest.
func (c *Client) Manifest(ctx context.Context) (*Manifest, error) {
	var m Manifest
	if err := c.GetJSON(ctx, c.manifestURL, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// ResolveAlias maps the latest/latest-release/latest-snapshot aliases to
// the concrete version id they currently point at. Any other id is
// returned unchanged.
func (m *Manifest) ResolveAlias(id string) string {
	switch id {
	case AliasLatest, AliasLatestRelease:
		return m.Latest.Release
	case AliasLatestSnapshot:
		return m.Latest.Snapshot
	default:
		return id
	}
}

// Find returns the manifest entry for the given concrete version id.
func (m *Manifest) Find(id string) (*ManifestEntry, bool) {
	for i := range m.Versions {
		if m.Versions[i].ID == id {
			return &m.Versions[i], true
		}
	}

	return nil, false
}
