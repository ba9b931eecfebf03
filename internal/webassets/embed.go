package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

const (
	WebXMLName   = "web.xml"
	ManifestName = "MANIFEST.MF"
)

// defaults/ holds the descriptors used when a build supplies none
//
//go:embed defaults
var embedded embed.FS

// DefaultsFS is rooted at defaults/ and can serve as a resource FS.
func DefaultsFS() fs.FS {
	sub, err := fs.Sub(embedded, "defaults")
	if err != nil {
		panic(fmt.Errorf("webassets: defaults subfs: %w", err))
	}
	return sub
}

func DefaultWebXML() []byte   { return mustRead(WebXMLName) }
func DefaultManifest() []byte { return mustRead(ManifestName) }

func mustRead(name string) []byte {
	data, err := fs.ReadFile(DefaultsFS(), name)
	if err != nil {
		panic(fmt.Errorf("webassets: read %s: %w", name, err))
	}
	return data
}
