package container

import (
	"io/fs"
	"net/url"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

// WebXML is the deployment descriptor name beneath the web root.
const WebXML = "web.xml"

// Web adds web.xml and web resources beneath the root returned by webPath,
// typically the concrete archive's WebPath method.
type Web[T any] struct {
	r rooted[T]
}

func NewWeb[T any](base *Base[T], webPath func() archive.Path) *Web[T] {
	return &Web[T]{r: rooted[T]{base: base, root: webPath}}
}

// SetWebXML stores the named resource as web.xml.
func (w *Web[T]) SetWebXML(resourceName string) T {
	if resourceName == "" {
		return w.r.missing("ResourceName should be specified")
	}
	return w.SetWebXMLAsset(w.r.base.ResourceAsset(resourceName))
}

// SetWebXMLFile stores the file at path as web.xml.
func (w *Web[T]) SetWebXMLFile(path string) T {
	if path == "" {
		return w.r.missing("File should be specified")
	}
	return w.SetWebXMLAsset(w.r.base.FileAsset(path))
}

// SetWebXMLURL stores the content fetched from u as web.xml.
func (w *Web[T]) SetWebXMLURL(u *url.URL) T {
	if u == nil {
		return w.r.missing("URL should be specified")
	}
	return w.SetWebXMLAsset(w.r.base.URLAsset(u))
}

func (w *Web[T]) SetWebXMLAsset(a asset.Asset) T {
	return w.r.addAs(a, WebXML)
}

// AddWebResource adds a named resource under its trailing segment:
// "org/acme/site.css" lands at <web root>/site.css.
func (w *Web[T]) AddWebResource(resourceName string) T {
	if resourceName == "" {
		return w.r.missing("ResourceName should be specified")
	}
	return w.AddWebResourceAs(resourceName, asset.NameForResource(resourceName))
}

// AddWebResourceFile adds a file under its base name.
func (w *Web[T]) AddWebResourceFile(path string) T {
	if path == "" {
		return w.r.missing("File should be specified")
	}
	return w.AddWebResourceFileAs(path, filepath.Base(path))
}

// AddWebResourceURL adds remote content under the trailing segment of the
// URL path. A URL without one needs AddWebResourceURLAs.
func (w *Web[T]) AddWebResourceURL(u *url.URL) T {
	if u == nil {
		return w.r.missing("URL should be specified")
	}
	a := asset.NewURL(u, w.r.base.fetcher)
	if a.Name() == "" {
		return w.r.missing("Target should be specified for URL " + u.Redacted())
	}
	return w.AddWebResourceAsset(a, a.Name())
}

func (w *Web[T]) AddWebResourceAs(resourceName, target string) T {
	if resourceName == "" {
		return w.r.missing("ResourceName should be specified")
	}
	return w.AddWebResourceAsset(w.r.base.ResourceAsset(resourceName), target)
}

func (w *Web[T]) AddWebResourceFileAs(path, target string) T {
	if path == "" {
		return w.r.missing("File should be specified")
	}
	return w.AddWebResourceAsset(w.r.base.FileAsset(path), target)
}

func (w *Web[T]) AddWebResourceURLAs(u *url.URL, target string) T {
	if u == nil {
		return w.r.missing("URL should be specified")
	}
	return w.AddWebResourceAsset(w.r.base.URLAsset(u), target)
}

func (w *Web[T]) AddWebResourceAsset(a asset.Asset, target string) T {
	if asset.IsNil(a) {
		return w.r.missing("Asset should be specified")
	}
	return w.r.addAs(a, target)
}

func (w *Web[T]) AddWebResourceAt(resourceName string, target archive.Path) T {
	if resourceName == "" {
		return w.r.missing("ResourceName should be specified")
	}
	return w.AddWebResourceAssetAt(w.r.base.ResourceAsset(resourceName), target)
}

func (w *Web[T]) AddWebResourceFileAt(path string, target archive.Path) T {
	if path == "" {
		return w.r.missing("File should be specified")
	}
	return w.AddWebResourceAssetAt(w.r.base.FileAsset(path), target)
}

func (w *Web[T]) AddWebResourceURLAt(u *url.URL, target archive.Path) T {
	if u == nil {
		return w.r.missing("URL should be specified")
	}
	return w.AddWebResourceAssetAt(w.r.base.URLAsset(u), target)
}

// AddWebResourceAssetAt stores a at <web root>/target.
func (w *Web[T]) AddWebResourceAssetAt(a asset.Asset, target archive.Path) T {
	return w.r.addAt(a, target)
}

// AddWebResources adds every file of the resource filesystem matching a
// doublestar pattern ("static/**/*.css"), keeping its relative path beneath
// the web root. A pattern matching nothing is an error.
func (w *Web[T]) AddWebResources(pattern string) T {
	if w.r.failed() {
		return w.r.base.self
	}
	if pattern == "" {
		return w.r.missing("Pattern should be specified")
	}
	if !doublestar.ValidatePattern(pattern) {
		return w.r.base.Fail(xerrors.Newf("invalid resource pattern %q", pattern))
	}

	fsys := w.r.base.resources
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return w.r.base.Fail(xerrors.Wrapf(err, "glob resources %q", pattern))
	}
	if len(matches) == 0 {
		return w.r.base.Fail(xerrors.Wrapf(fs.ErrNotExist, "resource pattern %q matched no files", pattern))
	}

	for _, m := range matches {
		w.AddWebResourceAt(m, archive.NewPath(m))
	}
	return w.r.base.self
}
