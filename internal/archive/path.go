package archive

import (
	"strings"

	"github.com/keithlinneman/warpack/internal/pathutil"
)

// Path is an ordered sequence of segments identifying a location in an
// archive. The zero value is the root. Paths are immutable values.
type Path struct {
	segs []string
}

// Root is the archive root "/".
var Root = Path{}

// NewPath parses a "/"-separated path. Leading, trailing and repeated
// separators are ignored, so "WEB-INF/web.xml" and "/WEB-INF/web.xml" are equal.
func NewPath(s string) Path {
	return Path{segs: pathutil.Segments(s)}
}

// JoinPath returns base with each rel parsed and appended.
func JoinPath(base Path, rel ...string) Path {
	out := base
	for _, r := range rel {
		out = out.Join(NewPath(r))
	}
	return out
}

// Join returns p followed by other's segments.
func (p Path) Join(other Path) Path {
	if len(other.segs) == 0 {
		return p
	}
	segs := make([]string, 0, len(p.segs)+len(other.segs))
	segs = append(segs, p.segs...)
	segs = append(segs, other.segs...)
	return Path{segs: segs}
}

// Child returns p with name appended as a single path string.
func (p Path) Child(name string) Path { return p.Join(NewPath(name)) }

// Parent returns the enclosing path; the parent of Root is Root.
func (p Path) Parent() Path {
	if len(p.segs) <= 1 {
		return Root
	}
	return Path{segs: p.segs[:len(p.segs)-1]}
}

// Name returns the last segment, or "" for Root.
func (p Path) Name() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segs))
	copy(out, p.segs)
	return out
}

func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// HasPrefix reports whether p equals prefix or lies beneath it.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segs) > len(p.segs) {
		return false
	}
	for i, s := range prefix.segs {
		if p.segs[i] != s {
			return false
		}
	}
	return true
}

// String returns the absolute form, e.g. "/WEB-INF/web.xml".
func (p Path) String() string { return "/" + strings.Join(p.segs, "/") }

// rel returns the root-relative form used as an fs.FS / zip entry name.
func (p Path) rel() string { return strings.Join(p.segs, "/") }

// Equal compares segment-wise.
func (p Path) Equal(other Path) bool {
	return len(p.segs) == len(other.segs) && p.HasPrefix(other)
}
