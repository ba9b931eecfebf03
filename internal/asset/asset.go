// Package asset provides the content sources that can be stored in an
// archive. An Asset is lazy: construction performs no I/O and content is
// read only when Open is called, typically during snapshot or export.
package asset

import (
	"bytes"
	"context"
	"io"
	"reflect"

	"github.com/keithlinneman/warpack/internal/pathutil"
)

// Asset yields the bytes of one archive entry.
type Asset interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// IsNil reports whether a is nil or an interface holding a nil pointer,
// such as (*Bytes)(nil).
func IsNil(a Asset) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// NameForResource returns the default archive name of a resource, which is
// its trailing segment: "css/site.css" -> "site.css".
func NameForResource(name string) string {
	return pathutil.LastSegment(name)
}

// ReadAll opens a and reads it fully.
func ReadAll(ctx context.Context, a Asset) ([]byte, error) {
	rc, err := a.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Bytes is an in-memory asset.
type Bytes struct {
	data []byte
}

// FromBytes returns an asset over data. The slice is not copied.
func FromBytes(data []byte) *Bytes { return &Bytes{data: data} }

// FromString returns an asset over s.
func FromString(s string) *Bytes { return &Bytes{data: []byte(s)} }

func (b *Bytes) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *Bytes) Len() int { return len(b.data) }

func (b *Bytes) String() string { return "bytes" }
