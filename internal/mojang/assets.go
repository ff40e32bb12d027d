package mojang

import "fmt"

// assetObjectsBaseURL is the content-addressed store serving asset
// objects by digest.
const assetObjectsBaseURL = "https://resources.download.minecraft.net"

// AssetIndex maps logical asset names (such as "minecraft/sounds/...")
// to their content-addressed objects.
type AssetIndex struct {
	Objects map[string]AssetObject `json:"objects"`
}

// AssetObject identifies one asset by its SHA-1 digest.
type AssetObject struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// objectPrefix returns the two-character fan-out directory for an asset
// digest.
func objectPrefix(hash string) (string, error) {
	if len(hash) < 2 {
		return "", fmt.Errorf("mojang: asset hash %q too short: %w", hash, ErrMalformed)
	}

	return hash[:2], nil
}

// AssetObjectURL returns the download URL for an asset object.
func AssetObjectURL(hash string) (string, error) {
	prefix, err := objectPrefix(hash)
	if err != nil {
		return "", err
	}

	return assetObjectsBaseURL + "/" + prefix + "/" + hash, nil
}
