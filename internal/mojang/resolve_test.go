package mojang

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-mc/lodestone/internal/integrity"
)

const (
	shaClient  = "1111111111111111111111111111111111111111"
	shaBrig    = "2222222222222222222222222222222222222222"
	shaObjc    = "3333333333333333333333333333333333333333"
	shaLwjgl   = "4444444444444444444444444444444444444444"
	shaNatives = "5555555555555555555555555555555555555555"
	shaWrong   = "ffffffffffffffffffffffffffffffffffffffff"
	hashCave   = "0123456789abcdef0123456789abcdef01234567"
	hashLang   = "aaaa456789abcdef0123456789abcdef01234567"
)

// fixture wires a manifest, version descriptors, and an asset index into
// one httptest server with consistent digests.
type fixture struct {
	srv           *httptest.Server
	client        *Client
	manifestCalls atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{}
	mux := http.NewServeMux()
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	base := f.srv.URL

	indexJSON := []byte(`{"objects":{` +
		`"minecraft/lang/en_us.json":{"hash":"` + hashLang + `","size":34},` +
		`"minecraft/sounds/ambient/cave1.ogg":{"hash":"` + hashCave + `","size":12},` +
		`"minecraft/sounds/dup.ogg":{"hash":"` + hashCave + `","size":12}}}`)

	indexSHA, err := integrity.Digest(bytes.NewReader(indexJSON))
	require.NoError(t, err)

	desc := Descriptor{
		ID:        "1.21.4",
		Type:      TypeRelease,
		MainClass: "net.minecraft.client.main.Main",
		Assets:    "17",
		AssetIndex: AssetIndexRef{
			ID:        "17",
			SHA1:      indexSHA,
			Size:      int64(len(indexJSON)),
			TotalSize: 46,
			URL:       base + "/indexes/17.json",
		},
		Downloads: Downloads{
			Client: &DownloadInfo{SHA1: shaClient, Size: 26657267, URL: base + "/client.jar"},
		},
		Libraries: []Library{
			{
				Name: "com.mojang:brigadier:1.2.9",
				Downloads: &LibraryDownloads{
					Artifact: &ArtifactInfo{
						Path: "com/mojang/brigadier/1.2.9/brigadier-1.2.9.jar",
						SHA1: shaBrig, Size: 77, URL: base + "/lib/brigadier.jar",
					},
				},
			},
			{
				Name:  "ca.weblite:java-objc-bridge:1.1",
				Rules: []Rule{{Action: ActionAllow, OS: &OSRule{Name: "osx"}}},
				Downloads: &LibraryDownloads{
					Artifact: &ArtifactInfo{
						Path: "ca/weblite/java-objc-bridge/1.1/java-objc-bridge-1.1.jar",
						SHA1: shaObjc, Size: 88, URL: base + "/lib/objc.jar",
					},
				},
			},
			{
				Name:    "org.lwjgl:lwjgl:2.9.4",
				Natives: map[string]string{"linux": "natives-linux", "windows": "natives-windows-${arch}"},
				Extract: &ExtractRules{Exclude: []string{"META-INF/"}},
				Downloads: &LibraryDownloads{
					Artifact: &ArtifactInfo{
						Path: "org/lwjgl/lwjgl/2.9.4/lwjgl-2.9.4.jar",
						SHA1: shaLwjgl, Size: 99, URL: base + "/lib/lwjgl.jar",
					},
					Classifiers: map[string]ArtifactInfo{
						"natives-linux": {
							Path: "org/lwjgl/lwjgl/2.9.4/lwjgl-2.9.4-natives-linux.jar",
							SHA1: shaNatives, Size: 111, URL: base + "/lib/lwjgl-natives.jar",
						},
					},
				},
			},
		},
		JavaVersion: &JavaVersionRef{Component: "java-runtime-delta", MajorVersion: 21},
	}

	descJSON, err := json.Marshal(desc)
	require.NoError(t, err)

	corrupt := desc
	corrupt.ID = "corrupt"
	corrupt.AssetIndex.SHA1 = shaWrong
	corruptJSON, err := json.Marshal(corrupt)
	require.NoError(t, err)

	evil := desc
	evil.ID = "evil"
	evil.Libraries = []Library{{
		Name: "bad.actor:escape:1.0",
		Downloads: &LibraryDownloads{
			Artifact: &ArtifactInfo{Path: "../../escape.jar", SHA1: shaBrig, URL: base + "/lib/escape.jar"},
		},
	}}
	evilJSON, err := json.Marshal(evil)
	require.NoError(t, err)

	manifest := Manifest{
		Latest: LatestPointers{Release: "1.21.4", Snapshot: "25w02a"},
		Versions: []ManifestEntry{
			{ID: "25w02a", Type: TypeSnapshot, URL: base + "/v/25w02a.json"},
			{ID: "1.21.4", Type: TypeRelease, URL: base + "/v/1.21.4.json"},
			{ID: "bad", Type: TypeRelease, URL: base + "/v/bad.json"},
			{ID: "corrupt", Type: TypeRelease, URL: base + "/v/corrupt.json"},
			{ID: "evil", Type: TypeRelease, URL: base + "/v/evil.json"},
		},
	}
	manifestJSON, err := json.Marshal(manifest)
	require.NoError(t, err)

	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		f.manifestCalls.Add(1)
		_, _ = w.Write(manifestJSON)
	})
	mux.HandleFunc("/v/1.21.4.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(descJSON)
	})
	mux.HandleFunc("/v/bad.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bad","type":"release"}`))
	})
	mux.HandleFunc("/v/corrupt.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(corruptJSON)
	})
	mux.HandleFunc("/v/evil.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(evilJSON)
	})
	mux.HandleFunc("/indexes/17.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(indexJSON)
	})

	f.client = newTestClient(t)
	f.client.manifestURL = base + "/manifest.json"

	return f
}

func (f *fixture) resolver(p Platform) *Resolver {
	return NewResolver(f.client, p, testLogger())
}

func artifactPaths(arts []Artifact) []string {
	paths := make([]string, len(arts))
	for i, a := range arts {
		paths[i] = a.Path
	}

	return paths
}

func TestResolver_Resolve_ArtifactSetAndOrder(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	res, err := r.Resolve(context.Background(), "1.21.4")
	require.NoError(t, err)

	assert.Equal(t, "1.21.4", res.VersionID)
	assert.Equal(t, "net.minecraft.client.main.Main", res.Descriptor.MainClass)
	assert.Equal(t, 21, res.JavaMajor())
	assert.NotEmpty(t, res.RawDescriptor)
	require.NotNil(t, res.AssetIndex)
	assert.Len(t, res.AssetIndex.Objects, 3)

	// Client jar first, then libraries in descriptor order, then the
	// asset index, then asset objects sorted by logical name with
	// duplicate hashes collapsed.
	want := []string{
		"versions/1.21.4/1.21.4.jar",
		"libraries/com/mojang/brigadier/1.2.9/brigadier-1.2.9.jar",
		"libraries/org/lwjgl/lwjgl/2.9.4/lwjgl-2.9.4.jar",
		"libraries/org/lwjgl/lwjgl/2.9.4/lwjgl-2.9.4-natives-linux.jar",
		"assets/indexes/17.json",
		"assets/objects/aa/" + hashLang,
		"assets/objects/01/" + hashCave,
	}
	assert.Equal(t, want, artifactPaths(res.Artifacts))

	first := res.Artifacts[0]
	assert.Equal(t, KindClient, first.Kind)
	assert.Equal(t, shaClient, first.SHA1)
	assert.Equal(t, int64(26657267), first.Size)

	assert.Equal(t, "versions/1.21.4/1.21.4.jar", res.ClientJarPath())
	assert.Len(t, res.ByKind(KindLibrary), 2)
	assert.Len(t, res.ByKind(KindNative), 1)
	assert.Len(t, res.ByKind(KindAsset), 2)

	native := res.ByKind(KindNative)[0]
	assert.Equal(t, shaNatives, native.SHA1)

	asset := res.ByKind(KindAsset)[1]
	assert.Equal(t, hashCave, asset.SHA1)
	assert.Contains(t, asset.URL, "/"+hashCave[:2]+"/"+hashCave)
}

func TestResolver_Resolve_PlatformFiltering(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(osxARM64)

	res, err := r.Resolve(context.Background(), "1.21.4")
	require.NoError(t, err)

	paths := artifactPaths(res.Artifacts)
	assert.Contains(t, paths, "libraries/ca/weblite/java-objc-bridge/1.1/java-objc-bridge-1.1.jar")
	assert.NotContains(t, paths, "libraries/org/lwjgl/lwjgl/2.9.4/lwjgl-2.9.4-natives-linux.jar")
	assert.Empty(t, res.ByKind(KindNative))
}

func TestResolver_Resolve_AliasAndMemoizedManifest(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	res1, err := r.Resolve(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, "1.21.4", res1.VersionID)
	assert.Equal(t, int32(1), f.manifestCalls.Load())

	res2, err := r.Resolve(context.Background(), "1.21.4")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.manifestCalls.Load())

	assert.Equal(t, res1.Artifacts, res2.Artifacts)
}

func TestResolver_Resolve_UnknownVersion(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	_, err := r.Resolve(context.Background(), "9.99.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	assert.Contains(t, err.Error(), "9.99.9")
}

func TestResolver_Resolve_MalformedDescriptor(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	_, err := r.Resolve(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestResolver_Resolve_AssetIndexDigestMismatch(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	_, err := r.Resolve(context.Background(), "corrupt")
	require.Error(t, err)
	assert.ErrorIs(t, err, integrity.ErrMismatch)

	var mismatch *integrity.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, shaWrong, mismatch.Want)
}

func TestResolver_Resolve_RejectsUnsafeLibraryPath(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(linuxAMD64)

	_, err := r.Resolve(context.Background(), "evil")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "escape.jar")
}

func TestAssetObjectURL(t *testing.T) {
	url, err := AssetObjectURL(hashCave)
	require.NoError(t, err)
	assert.Equal(t, assetObjectsBaseURL+"/01/"+hashCave, url)

	_, err = AssetObjectURL("x")
	assert.ErrorIs(t, err, ErrMalformed)
}
