package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/warpack/internal/version"
)

// ServerMetrics owns a private registry. It satisfies archive.Recorder,
// publish.PublisherMetrics and publish.WatcherMetrics.
type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// archive tree
	entriesAdded    *prometheus.CounterVec
	entriesReplaced *prometheus.CounterVec
	exportsTotal    *prometheus.CounterVec
	exportBytes     *prometheus.HistogramVec
	exportDur       *prometheus.HistogramVec

	// publishing
	publishTotal *prometheus.CounterVec
	publishDur   prometheus.Histogram
	publishBytes prometheus.Histogram

	// served archive
	activeArchive   *prometheus.GaugeVec
	archiveLoadedTs prometheus.Gauge

	// watcher
	watcherPollsTotal    prometheus.Counter
	watcherSwapsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	archiveLoadDuration  prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
}

var sizeBuckets = []float64{1024, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800}

// New returns a fresh registry + standard collectors + HTTP and archive metrics.
// Archive labels carry the archive name, which is bounded by what the process builds.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: sizeBuckets,
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered HTTP handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		entriesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_entries_added_total",
			Help: "Entries stored at a previously empty archive path",
		}, []string{"archive"}),
		entriesReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_entries_replaced_total",
			Help: "Entries that replaced an existing archive path",
		}, []string{"archive"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_exports_total",
			Help: "Completed archive exports by format",
		}, []string{"format"}),
		exportBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_export_size_bytes",
			Help:    "Size of exported archives by format",
			Buckets: sizeBuckets,
		}, []string{"format"}),
		exportDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_export_duration_seconds",
			Help:    "Time to materialize and encode an archive",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"format"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_publish_total",
			Help: "Publish attempts by outcome (ok, error)",
		}, []string{"outcome"}),
		publishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_publish_duration_seconds",
			Help:    "Time to export, upload, sign, and point SSM at an archive",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		publishBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_publish_size_bytes",
			Help:    "Size of successfully published archives",
			Buckets: sizeBuckets,
		}),
		activeArchive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archive_active_info",
			Help: "Currently served archive (labels carry identity, value is always 1)",
		}, []string{"sha256", "source"}),
		archiveLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archive_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the served archive was loaded",
		}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_watcher_polls_total",
			Help: "Total number of watcher poll cycles",
		}),
		watcherSwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_watcher_swaps_total",
			Help: "Total number of successful archive swaps",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_watcher_errors_total",
			Help: "Total watcher errors by type",
		}, []string{"type"}),
		archiveLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_load_duration_seconds",
			Help:    "Time to download, verify, and import an archive",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archive_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful SSM poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archive_watcher_stale",
			Help: "Whether the archive watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.entriesAdded,
		m.entriesReplaced,
		m.exportsTotal,
		m.exportBytes,
		m.exportDur,
		m.publishTotal,
		m.publishDur,
		m.publishBytes,
		m.activeArchive,
		m.archiveLoadedTs,
		m.watcherPollsTotal,
		m.watcherSwapsTotal,
		m.watcherErrorsTotal,
		m.archiveLoadDuration,
		m.watcherLastSuccessTs,
		m.watcherStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func (m *ServerMetrics) EntryAdded(archive string) {
	m.entriesAdded.WithLabelValues(archive).Inc()
}

func (m *ServerMetrics) EntryReplaced(archive string) {
	m.entriesReplaced.WithLabelValues(archive).Inc()
}

func (m *ServerMetrics) Exported(_, format string, bytes int64, seconds float64) {
	m.exportsTotal.WithLabelValues(format).Inc()
	m.exportBytes.WithLabelValues(format).Observe(float64(bytes))
	m.exportDur.WithLabelValues(format).Observe(seconds)
}

func (m *ServerMetrics) ObservePublish(outcome string, bytes int64, seconds float64) {
	m.publishTotal.WithLabelValues(outcome).Inc()
	m.publishDur.Observe(seconds)
	if outcome == "ok" {
		m.publishBytes.Observe(float64(bytes))
	}
}

// SetActiveArchive records the archive now being served. Only one label
// set is ever live.
func (m *ServerMetrics) SetActiveArchive(sha256, source string, loadedAt time.Time) {
	if sha256 == "" {
		sha256 = "unpublished"
	}
	m.activeArchive.Reset()
	m.activeArchive.WithLabelValues(sha256, source).Set(1)
	m.archiveLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) IncWatcherPolls() {
	m.watcherPollsTotal.Inc()
}

func (m *ServerMetrics) IncWatcherSwaps() {
	m.watcherSwapsTotal.Inc()
}

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObserveArchiveLoadDuration(seconds float64) {
	m.archiveLoadDuration.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	m.watcherStale.Set(boolGauge(stale))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
