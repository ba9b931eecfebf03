package previewhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/keithlinneman/warpack/internal/health"
	"github.com/keithlinneman/warpack/internal/pathutil"
	"github.com/keithlinneman/warpack/internal/publish"
)

// private top-level directories of a web archive, matched case-insensitively
var hiddenDirs = []string{"WEB-INF", "META-INF"}

const indexFile = "index.html"

var errNoArchive = errors.New("no archive loaded")

type archiveHandler struct {
	archive SnapshotProvider
}

func (h *archiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap, ok := h.archive.Get()
	if !ok {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Retry-After", "5")
		http.Error(w, errNoArchive.Error(), http.StatusServiceUnavailable)
		return
	}
	setArchiveHeaders(w, snap)

	file, redirectTo, found := resolvePath(r.URL.Path, snap.FS)
	if redirectTo != "" {
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		w.Header().Set("Cache-Control", "no-store")
		http.NotFound(w, r)
		return
	}

	// preview content changes on every rebuild
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, snap.FS, file)
}

func setArchiveHeaders(w http.ResponseWriter, snap *publish.Snapshot) {
	w.Header().Set("X-Archive-Name", snap.Name)
	if snap.SHA256 != "" {
		w.Header().Set("X-Archive-Hash", snap.SHA256)
	}
}

// resolvePath maps a URL path to a file within fsys.
//
// Returns:
// - file: relative file path within fsys (no leading slash)
// - redirectTo: if non-empty, caller should redirect to this URL path
// - ok: whether the mapping is valid/found
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || pathutil.HasDotSegments(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	rel := strings.TrimPrefix(clean, "/")

	// checked after Clean so "//WEB-INF/x" cannot slip past
	if isHidden(clean) {
		return "", "", false
	}

	switch {
	case clean == "/":
		return found(fsys, indexFile)
	case trailingSlash:
		return found(fsys, rel+"/"+indexFile)
	case existsFile(fsys, rel):
		return rel, "", true
	case path.Ext(clean) == "" && existsFile(fsys, rel+"/"+indexFile):
		// canonical directory URL
		return "", clean + "/", true
	}
	return "", "", false
}

func found(fsys fs.FS, name string) (string, string, bool) {
	if existsFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

func isHidden(p string) bool {
	first := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)[0]
	for _, d := range hiddenDirs {
		if strings.EqualFold(first, d) {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

type entriesResponse struct {
	Name     string              `json:"name"`
	SHA256   string              `json:"sha256,omitempty"`
	Source   publish.Source      `json:"source"`
	LoadedAt time.Time           `json:"loaded_at"`
	Entries  []publish.EntryInfo `json:"entries"`
}

// entriesHandler lists every entry, hidden ones included.
func entriesHandler(archive SnapshotProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		snap, ok := archive.Get()
		if !ok {
			http.Error(w, errNoArchive.Error(), http.StatusServiceUnavailable)
			return
		}
		entries := snap.Entries
		if entries == nil {
			entries = []publish.EntryInfo{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entriesResponse{
			Name:     snap.Name,
			SHA256:   snap.SHA256,
			Source:   snap.Source,
			LoadedAt: snap.LoadedAt,
			Entries:  entries,
		})
	}
}

func healthyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// archiveLoaded fails readiness until the provider has a snapshot.
func archiveLoaded(archive SnapshotProvider) health.CheckFunc {
	return func(context.Context) error {
		if _, ok := archive.Get(); !ok {
			return errNoArchive
		}
		return nil
	}
}
