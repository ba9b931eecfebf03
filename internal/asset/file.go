package asset

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/keithlinneman/warpack/internal/xerrors"
)

// File is a file on the local filesystem, opened on demand.
type File struct {
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

// Name is the base name used when no target is given.
func (f *File) Name() string { return filepath.Base(f.path) }

func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open file %s", f.path)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, xerrors.Wrapf(err, "stat file %s", f.path)
	}
	if info.IsDir() {
		fh.Close()
		return nil, xerrors.Newf("file %s is a directory", f.path)
	}
	return fh, nil
}

func (f *File) String() string { return "file:" + f.path }
