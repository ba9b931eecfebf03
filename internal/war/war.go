// Package war is the concrete web application archive: web resources live
// under WEB-INF and metadata under META-INF.
package war

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"

	"github.com/google/uuid"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/container"
)

const Extension = ".war"

var (
	webPath      = archive.NewPath("/WEB-INF")
	manifestPath = archive.NewPath("/META-INF")
)

// Archive is a fluent WAR builder. Every builder method returns the same
// *Archive; check Err once the chain is complete.
type Archive struct {
	*container.Base[*Archive]
	*container.Web[*Archive]
	*container.Manifest[*Archive]
}

// Options configures a new Archive.
type Options struct {
	Archive   []archive.Option
	Container []container.Option
}

// New returns an empty archive. An empty name becomes "<uuid>.war" and a
// name without the extension gets it appended.
func New(name string, opts Options) *Archive {
	return FromArchive(archive.New(Name(name), opts.Archive...), opts.Container...)
}

// Name normalizes an archive name.
func Name(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.NewString() + Extension
	}
	if !strings.HasSuffix(strings.ToLower(name), Extension) {
		name += Extension
	}
	return name
}

func (a *Archive) Name() string { return a.Archive().Name() }

func (a *Archive) WebPath() archive.Path { return webPath }

func (a *Archive) ManifestPath() archive.Path { return manifestPath }

// WriteZip writes the archive in WAR (zip) form. It fails with the sticky
// builder error without writing anything.
func (a *Archive) WriteZip(ctx context.Context, w io.Writer) error {
	if err := a.Err(); err != nil {
		return err
	}
	return a.Archive().WriteZip(ctx, w)
}

func (a *Archive) WriteTarGz(ctx context.Context, w io.Writer) error {
	if err := a.Err(); err != nil {
		return err
	}
	return a.Archive().WriteTarGz(ctx, w)
}

// Bytes returns the zip form in memory.
func (a *Archive) Bytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := a.WriteZip(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Archive) Snapshot(ctx context.Context) (fs.FS, error) {
	if err := a.Err(); err != nil {
		return nil, err
	}
	return a.Archive().Snapshot(ctx)
}

// FromArchive wraps an existing tree, such as one returned by archive.ReadZip.
func FromArchive(ar *archive.Archive, opts ...container.Option) *Archive {
	a := &Archive{}
	a.Base = container.NewBase(a, ar, opts...)
	a.Web = container.NewWeb(a.Base, a.WebPath)
	a.Manifest = container.NewManifest(a.Base, a.ManifestPath)
	return a
}
