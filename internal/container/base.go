package container

import (
	"context"
	"io/fs"
	"net/url"
	"os"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

type options struct {
	resources fs.FS
	fetcher   *asset.Fetcher
	logger    log.Logger
}

type Option func(*options)

// WithResources sets the filesystem named resources resolve against.
// Defaults to os.DirFS(".").
func WithResources(fsys fs.FS) Option {
	return func(o *options) {
		if fsys != nil {
			o.resources = fsys
		}
	}
}

// WithFetcher sets the fetcher used by URL assets. Defaults to asset.DefaultFetcher.
func WithFetcher(f *asset.Fetcher) Option {
	return func(o *options) {
		if f != nil {
			o.fetcher = f
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Base is the generic builder core shared by every concrete archive type.
type Base[T any] struct {
	self      T
	archive   *archive.Archive
	resources fs.FS
	fetcher   *asset.Fetcher
	logger    log.Logger
	err       error
}

// NewBase returns a builder core that hands self back from every call.
func NewBase[T any](self T, ar *archive.Archive, opts ...Option) *Base[T] {
	o := options{
		resources: os.DirFS("."),
		fetcher:   asset.DefaultFetcher,
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Base[T]{
		self:      self,
		archive:   ar,
		resources: o.resources,
		fetcher:   o.fetcher,
		logger:    o.logger,
	}
}

func (b *Base[T]) Self() T { return b.self }

func (b *Base[T]) Archive() *archive.Archive { return b.archive }

func (b *Base[T]) Resources() fs.FS { return b.resources }

// Err returns the first error recorded by any builder call.
func (b *Base[T]) Err() error { return b.err }

// Fail records err as the sticky error unless one is already set.
func (b *Base[T]) Fail(err error) T {
	if err != nil && b.err == nil {
		b.err = err
		b.logger.Debug(context.Background(), "archive builder call failed",
			"archive", b.archive.Name(),
			"error", err.Error(),
		)
	}
	return b.self
}

// Add stores a at p. Archive errors become the sticky error unchanged.
func (b *Base[T]) Add(a asset.Asset, p archive.Path) T {
	if b.err != nil {
		return b.self
	}
	if err := b.archive.Add(a, p); err != nil {
		return b.Fail(err)
	}
	return b.self
}

// AddAt stores a at the parsed target path.
func (b *Base[T]) AddAt(a asset.Asset, target string) T {
	if b.err != nil {
		return b.self
	}
	if target == "" {
		return b.Fail(xerrors.MissingArgument("Target should be specified"))
	}
	return b.Add(a, archive.NewPath(target))
}

// ResourceAsset returns a lazy asset for a named entry of the resource filesystem.
func (b *Base[T]) ResourceAsset(name string) asset.Asset {
	return asset.NewResource(b.resources, name)
}

// FileAsset returns a lazy asset for a filesystem path.
func (b *Base[T]) FileAsset(path string) asset.Asset {
	return asset.NewFile(path)
}

// URLAsset returns a lazy asset fetched through the builder's fetcher.
func (b *Base[T]) URLAsset(u *url.URL) asset.Asset {
	return asset.NewURL(u, b.fetcher)
}

// rooted resolves targets beneath a fixed root supplied by the concrete type.
type rooted[T any] struct {
	base *Base[T]
	root func() archive.Path
}

func (r rooted[T]) failed() bool { return r.base.err != nil }

func (r rooted[T]) missing(msg string) T {
	return r.base.Fail(xerrors.MissingArgument(msg))
}

// addAt is the canonical operation every mixin entry point funnels into.
func (r rooted[T]) addAt(a asset.Asset, p archive.Path) T {
	switch {
	case r.failed():
		return r.base.self
	case asset.IsNil(a):
		return r.missing("Asset should be specified")
	case p.IsRoot():
		return r.missing("Target should be specified")
	}
	return r.base.Add(a, r.root().Join(p))
}

func (r rooted[T]) addAs(a asset.Asset, target string) T {
	if r.failed() {
		return r.base.self
	}
	if target == "" {
		return r.missing("Target should be specified")
	}
	return r.addAt(a, archive.NewPath(target))
}
