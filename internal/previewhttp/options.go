package previewhttp

import (
	"net/http"

	"github.com/keithlinneman/warpack/internal/health"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/publish"
)

// SnapshotProvider returns the archive to serve. publish.Manager implements it.
type SnapshotProvider interface {
	Get() (*publish.Snapshot, bool)
}

type Options struct {
	Logger log.Logger
	Port   int

	// Archive is required
	Archive SnapshotProvider

	// Readiness is checked by /-/ready in addition to the archive being loaded
	Readiness health.Probe

	// served at /metrics when set
	MetricsHandler http.Handler
	MetricsMW      func(http.Handler) http.Handler

	UseRecoverMW bool
	OnPanic      func()
}
