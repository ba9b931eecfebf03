package archive

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/keithlinneman/warpack/internal/asset"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/pathutil"
	"github.com/keithlinneman/warpack/internal/xerrors"
)

var (
	// ErrInvalidPath is returned for paths containing "." or ".." segments.
	ErrInvalidPath = errors.New("invalid archive path")

	// ErrTooLarge is returned when an entry or the whole archive exceeds its size limit.
	ErrTooLarge = errors.New("archive content exceeds size limit")
)

var tracer = otel.Tracer("github.com/keithlinneman/warpack/internal/archive")

// Recorder receives archive events. metrics.ArchiveMetrics implements it.
type Recorder interface {
	EntryAdded(archive string)
	EntryReplaced(archive string)
	Exported(archive, format string, bytes int64, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) EntryAdded(string)                       {}
func (nopRecorder) EntryReplaced(string)                    {}
func (nopRecorder) Exported(string, string, int64, float64) {}

// Entry is one stored asset.
type Entry struct {
	Path    Path
	Asset   asset.Asset
	AddedAt time.Time
}

type Option func(*Archive)

func WithLogger(l log.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(a *Archive) {
		if r != nil {
			a.recorder = r
		}
	}
}

// Archive is an in-memory tree of assets keyed by path. Directories are
// implicit. It is safe for concurrent use.
type Archive struct {
	name     string
	logger   log.Logger
	recorder Recorder

	mu      sync.RWMutex
	entries map[string]Entry
}

func New(name string, opts ...Option) *Archive {
	a := &Archive{
		name:     name,
		logger:   log.Nop(),
		recorder: nopRecorder{},
		entries:  make(map[string]Entry),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("archive", name)
	return a
}

func (a *Archive) Name() string { return a.name }

// Add stores content at p, replacing any existing entry at the same path.
// A path cannot be both a file and the parent of other entries.
func (a *Archive) Add(content asset.Asset, p Path) error {
	if asset.IsNil(content) {
		return xerrors.MissingArgument("Asset should be specified")
	}
	if p.IsRoot() {
		return xerrors.MissingArgument("Path should be specified")
	}
	if pathutil.HasDotSegments(p.rel()) {
		return xerrors.Mark(ErrInvalidPath, "invalid archive path "+p.String()+": dot segments are not allowed")
	}

	key := p.String()
	a.mu.Lock()
	if err := a.checkClashLocked(p); err != nil {
		a.mu.Unlock()
		return err
	}
	_, replaced := a.entries[key]
	a.entries[key] = Entry{Path: p, Asset: content, AddedAt: time.Now().UTC()}
	a.mu.Unlock()

	if replaced {
		a.recorder.EntryReplaced(a.name)
	} else {
		a.recorder.EntryAdded(a.name)
	}
	a.logger.Debug(context.Background(), "archive entry added",
		"path", key,
		"asset", describe(content),
		"replaced", replaced,
	)
	return nil
}

// checkClashLocked rejects p when a stored file is one of its parents or
// when p is already the parent directory of stored entries.
func (a *Archive) checkClashLocked(p Path) error {
	for q := p.Parent(); !q.IsRoot(); q = q.Parent() {
		if _, ok := a.entries[q.String()]; ok {
			return xerrors.Mark(ErrInvalidPath, "invalid archive path "+p.String()+": "+q.String()+" is a file")
		}
	}
	dir := p.String() + "/"
	for k := range a.entries {
		if strings.HasPrefix(k, dir) {
			return xerrors.Mark(ErrInvalidPath, "invalid archive path "+p.String()+": already a directory")
		}
	}
	return nil
}

func (a *Archive) Get(p Path) (Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[p.String()]
	return e, ok
}

func (a *Archive) Contains(p Path) bool {
	_, ok := a.Get(p)
	return ok
}

// Delete removes the entry at p and reports whether it existed.
func (a *Archive) Delete(p Path) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := p.String()
	if _, ok := a.entries[key]; !ok {
		return false
	}
	delete(a.entries, key)
	return true
}

func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Entries returns all entries sorted by path.
func (a *Archive) Entries() []Entry {
	a.mu.RLock()
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out
}

// Under returns the sorted entries at or beneath prefix.
func (a *Archive) Under(prefix Path) []Entry {
	all := a.Entries()
	out := all[:0]
	for _, e := range all {
		if e.Path.HasPrefix(prefix) {
			out = append(out, e)
		}
	}
	return out
}

func describe(a asset.Asset) string {
	if s, ok := a.(interface{ String() string }); ok {
		return s.String()
	}
	return "asset"
}
