package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"testing/fstest"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/pathutil"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

const (
	maxSingleFile   = 10 * 1024 * 1024  // 10MB per entry
	maxTotalExtract = 100 * 1024 * 1024 // 100MB per archive
)

type materialized struct {
	name    string
	data    []byte
	modTime time.Time
}

// materialize opens every asset in path order and reads it into memory,
// enforcing the per-entry and total size limits.
func (a *Archive) materialize(ctx context.Context) ([]materialized, error) {
	entries := a.Entries()
	out := make([]materialized, 0, len(entries))
	var total int64

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readLimited(ctx, e)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
		if total > maxTotalExtract {
			return nil, xerrors.Wrapf(ErrTooLarge, "archive %s: total size exceeds %d bytes", a.name, maxTotalExtract)
		}
		out = append(out, materialized{name: e.Path.rel(), data: data, modTime: e.AddedAt})
	}
	return out, nil
}

func readLimited(ctx context.Context, e Entry) ([]byte, error) {
	rc, err := e.Asset.Open(ctx)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s", e.Path)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxSingleFile+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", e.Path)
	}
	if int64(len(data)) > maxSingleFile {
		return nil, xerrors.Wrapf(ErrTooLarge, "entry %s exceeds %d bytes", e.Path, maxSingleFile)
	}
	return data, nil
}

// Snapshot materializes the archive into an immutable in-memory filesystem
// keyed by root-relative paths ("WEB-INF/web.xml").
func (a *Archive) Snapshot(ctx context.Context) (fs.FS, error) {
	ctx, span := a.startSpan(ctx, "archive.Snapshot")
	defer span.End()

	files, err := a.materialize(ctx)
	if err != nil {
		return nil, spanErr(span, err)
	}
	mfs := make(fstest.MapFS, len(files))
	for _, f := range files {
		mfs[f.name] = &fstest.MapFile{Data: f.data, Mode: 0o644, ModTime: f.modTime}
	}
	span.SetAttributes(attribute.Int("archive.entries", len(files)))
	return mfs, nil
}

// WriteZip writes the archive as a zip (the on-disk WAR format) in path order.
func (a *Archive) WriteZip(ctx context.Context, w io.Writer) error {
	ctx, span := a.startSpan(ctx, "archive.WriteZip")
	defer span.End()
	start := time.Now()

	files, err := a.materialize(ctx)
	if err != nil {
		return spanErr(span, err)
	}

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: f.modTime}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return spanErr(span, xerrors.Wrapf(err, "zip header %s", f.name))
		}
		if _, err := fw.Write(f.data); err != nil {
			return spanErr(span, xerrors.Wrapf(err, "zip write %s", f.name))
		}
	}
	if err := zw.Close(); err != nil {
		return spanErr(span, xerrors.Wrap(err, "close zip"))
	}

	a.exported(ctx, span, "zip", len(files), cw.n, start)
	return nil
}

// WriteTarGz writes the archive as a gzip-compressed tarball in path order.
func (a *Archive) WriteTarGz(ctx context.Context, w io.Writer) error {
	ctx, span := a.startSpan(ctx, "archive.WriteTarGz")
	defer span.End()
	start := time.Now()

	files, err := a.materialize(ctx)
	if err != nil {
		return spanErr(span, err)
	}

	cw := &countingWriter{w: w}
	gw := gzip.NewWriter(cw)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.data)),
			ModTime:  f.modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return spanErr(span, xerrors.Wrapf(err, "tar header %s", f.name))
		}
		if _, err := tw.Write(f.data); err != nil {
			return spanErr(span, xerrors.Wrapf(err, "tar write %s", f.name))
		}
	}
	if err := tw.Close(); err != nil {
		return spanErr(span, xerrors.Wrap(err, "close tar"))
	}
	if err := gw.Close(); err != nil {
		return spanErr(span, xerrors.Wrap(err, "close gzip"))
	}

	a.exported(ctx, span, "tar.gz", len(files), cw.n, start)
	return nil
}

// ReadZip imports a zip archive. Entry names are validated with the same
// rules as Add; directories are skipped and non-regular entries rejected.
func ReadZip(data []byte, name string, opts ...Option) (*Archive, error) {
	// insecure names come back with a usable reader; importName rejects them
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zr == nil {
		return nil, xerrors.Wrap(err, "open zip")
	}

	ar := New(name, opts...)
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean, err := importName(f.Name)
		if err != nil {
			return nil, err
		}
		if !f.Mode().IsRegular() {
			return nil, xerrors.Newf("unsupported entry type in zip: %s (mode=%s)", f.Name, f.Mode())
		}
		if f.UncompressedSize64 > maxSingleFile {
			return nil, xerrors.Wrapf(ErrTooLarge, "entry %s exceeds %d bytes", clean, maxSingleFile)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, xerrors.Wrapf(err, "open %s", clean)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxSingleFile+1))
		rc.Close()
		if err != nil {
			return nil, xerrors.Wrapf(err, "read %s", clean)
		}
		if int64(len(content)) > maxSingleFile {
			return nil, xerrors.Wrapf(ErrTooLarge, "entry %s exceeds max size after read", clean)
		}
		total += int64(len(content))
		if total > maxTotalExtract {
			return nil, xerrors.Wrapf(ErrTooLarge, "total extracted size exceeds limit (%d bytes, max %d)", total, maxTotalExtract)
		}

		if err := ar.Add(asset.FromBytes(content), NewPath(clean)); err != nil {
			return nil, err
		}
	}
	return ar, nil
}

// ReadTarGz imports a gzip-compressed tarball with the same rules as ReadZip.
func ReadTarGz(data []byte, name string, opts ...Option) (*Archive, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	ar := New(name, opts...)
	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// directories are implicit
			continue

		case tar.TypeReg:
			clean, err := importName(hdr.Name)
			if err != nil {
				return nil, err
			}
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Wrapf(ErrTooLarge, "file %s exceeds max size (%d > %d)", clean, hdr.Size, maxSingleFile)
			}
			content, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", clean)
			}
			if int64(len(content)) > maxSingleFile {
				return nil, xerrors.Wrapf(ErrTooLarge, "file %s exceeds max size after read", clean)
			}
			total += int64(len(content))
			if total > maxTotalExtract {
				return nil, xerrors.Wrapf(ErrTooLarge, "total extracted size exceeds limit (%d bytes, max %d)", total, maxTotalExtract)
			}
			if err := ar.Add(asset.FromBytes(content), NewPath(clean)); err != nil {
				return nil, err
			}

		default:
			return nil, xerrors.Newf("unsupported file type in archive: %s (type=%d)", hdr.Name, hdr.Typeflag)
		}
	}
	return ar, nil
}

// importName validates a stored entry name. The raw name is checked before
// cleaning so "a/../b" is rejected rather than silently collapsed.
func importName(name string) (string, error) {
	if path.IsAbs(name) {
		return "", xerrors.Mark(ErrInvalidPath, "absolute path in archive: "+name)
	}
	if pathutil.HasDotSegments(name) {
		return "", xerrors.Mark(ErrInvalidPath, "path traversal in archive: "+name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", xerrors.Mark(ErrInvalidPath, "empty path in archive")
	}
	return clean, nil
}

func (a *Archive) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("archive.name", a.name)))
}

func (a *Archive) exported(ctx context.Context, span trace.Span, format string, entries int, n int64, start time.Time) {
	elapsed := time.Since(start)
	a.recorder.Exported(a.name, format, n, elapsed.Seconds())
	span.SetAttributes(
		attribute.String("archive.format", format),
		attribute.Int("archive.entries", entries),
		attribute.Int64("archive.bytes", n),
	)
	a.logger.Info(ctx, "archive exported",
		"format", format,
		"entries", entries,
		"bytes", n,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
