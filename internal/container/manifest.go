package container

import (
	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
)

// ManifestMF is the manifest name beneath the manifest root.
const ManifestMF = "MANIFEST.MF"

// Manifest adds MANIFEST.MF and other metadata beneath the root returned by
// manifestPath, typically META-INF.
type Manifest[T any] struct {
	r rooted[T]
}

func NewManifest[T any](base *Base[T], manifestPath func() archive.Path) *Manifest[T] {
	return &Manifest[T]{r: rooted[T]{base: base, root: manifestPath}}
}

func (m *Manifest[T]) SetManifest(resourceName string) T {
	if resourceName == "" {
		return m.r.missing("ResourceName should be specified")
	}
	return m.SetManifestAsset(m.r.base.ResourceAsset(resourceName))
}

func (m *Manifest[T]) SetManifestFile(path string) T {
	if path == "" {
		return m.r.missing("File should be specified")
	}
	return m.SetManifestAsset(m.r.base.FileAsset(path))
}

func (m *Manifest[T]) SetManifestAsset(a asset.Asset) T {
	return m.r.addAs(a, ManifestMF)
}

// AddManifestResource adds a named resource under its trailing segment.
func (m *Manifest[T]) AddManifestResource(resourceName string) T {
	if resourceName == "" {
		return m.r.missing("ResourceName should be specified")
	}
	return m.AddManifestResourceAsset(m.r.base.ResourceAsset(resourceName), asset.NameForResource(resourceName))
}

func (m *Manifest[T]) AddManifestResourceAsset(a asset.Asset, target string) T {
	if asset.IsNil(a) {
		return m.r.missing("Asset should be specified")
	}
	return m.r.addAs(a, target)
}
