package asset

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/keithlinneman/warpack/internal/xerrors"
)

// Resource is a named entry of a resource filesystem, the equivalent of a
// classpath resource: an embed.FS compiled into the binary or an os.DirFS
// over a resource directory.
type Resource struct {
	fsys fs.FS
	name string
}

func NewResource(fsys fs.FS, name string) *Resource {
	return &Resource{fsys: fsys, name: name}
}

// Name returns the resource name with any leading "/" removed.
func (r *Resource) Name() string { return strings.TrimPrefix(r.name, "/") }

func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.fsys == nil {
		return nil, xerrors.Newf("resource %s: no resource filesystem configured", r.name)
	}
	f, err := r.fsys.Open(r.Name())
	if err != nil {
		return nil, xerrors.Wrapf(err, "open resource %s", r.name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Wrapf(err, "stat resource %s", r.name)
	}
	if info.IsDir() {
		f.Close()
		return nil, xerrors.Newf("resource %s is a directory", r.name)
	}
	return f, nil
}

func (r *Resource) String() string { return fmt.Sprintf("resource:%s", r.Name()) }
