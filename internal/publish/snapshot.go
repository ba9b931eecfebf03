package publish

import (
	"context"
	"errors"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceLocal   Source = "local"
	SourceS3      Source = "s3"
)

// EntryInfo describes one file of a snapshot.
type EntryInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Snapshot is an immutable, fully materialized archive ready to serve.
type Snapshot struct {
	Name     string
	FS       fs.FS
	Entries  []EntryInfo
	SHA256   string
	Source   Source
	LoadedAt time.Time
}

// NewSnapshot materializes ar. hash may be empty for unpublished archives.
func NewSnapshot(ctx context.Context, ar *archive.Archive, src Source, hash string) (*Snapshot, error) {
	fsys, err := ar.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var entries []EntryInfo
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, EntryInfo{Path: "/" + p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "index snapshot")
	}

	return &Snapshot{
		Name:     ar.Name(),
		FS:       fsys,
		Entries:  entries,
		SHA256:   hash,
		Source:   src,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Manager holds the active snapshot. Swaps are atomic; readers never block.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set sets the active snapshot safely
func (m *Manager) Set(s Snapshot) {
	// copy to avoid external mutation
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get retrieves the active snapshot
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// Hash returns the active archive hash, or "" when unknown.
func (m *Manager) Hash() string {
	if s := m.active.Load(); s != nil {
		return s.SHA256
	}
	return ""
}

func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Source
	}
	return SourceUnknown
}

// ReadyErr returns an error if there is no active snapshot
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return errors.New("publish: no active snapshot")
	}
	return nil
}
