package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/warpack/internal/archive"
	"github.com/keithlinneman/warpack/internal/cfg"
	"github.com/keithlinneman/warpack/internal/cryptoutil"
	"github.com/keithlinneman/warpack/internal/health"
	"github.com/keithlinneman/warpack/internal/log"
	"github.com/keithlinneman/warpack/internal/metrics"
	"github.com/keithlinneman/warpack/internal/previewhttp"
	"github.com/keithlinneman/warpack/internal/publish"
	"github.com/keithlinneman/warpack/internal/war"
)

// every served snapshot must carry these, the first one included
var requiredPaths = []string{"/WEB-INF/web.xml"}

const (
	shutdownTimeout = 10 * time.Second

	// time between failing readiness and closing the listener
	drainDelay = 2 * time.Second
)

// serveLocal serves the freshly built archive until ctx is cancelled.
func serveLocal(ctx context.Context, conf cfg.App, w *war.Archive, hash string, m *metrics.ServerMetrics) error {
	src := publish.SourceLocal
	if hash != "" {
		src = publish.SourceS3
	}
	snap, err := publish.NewSnapshot(ctx, w.Archive(), src, hash)
	if err != nil {
		return err
	}

	mgr := publish.NewManager()
	mgr.Set(*snap)
	m.SetActiveArchive(snap.SHA256, string(snap.Source), snap.LoadedAt)

	return servePreview(ctx, conf, mgr, m)
}

// serveWatched serves whatever the SSM parameter points at and follows it.
// The server starts even when the first load fails; /-/ready reports it.
func serveWatched(ctx context.Context, conf cfg.App, awsCfg *aws.Config, m *metrics.ServerMetrics) error {
	L := log.FromContext(ctx)

	var verifier publish.Verifier
	if conf.SigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(*awsCfg), conf.SigningKeyARN)
	}

	loader, err := publish.NewLoader(ctx, publish.LoaderOptions{
		Logger:         L,
		Location:       location(conf),
		Verifier:       verifier,
		ArchiveOptions: []archive.Option{archive.WithLogger(L)},
		AWSConfig:      awsCfg,
	})
	if err != nil {
		return err
	}

	mgr := publish.NewManager()
	if snap, err := loadInitial(ctx, loader); err != nil {
		L.Error(ctx, err, "initial archive load failed, waiting for the watcher")
	} else {
		mgr.Set(*snap)
		L.Info(ctx, "loaded published archive", "archive", snap.Name, "sha256", snap.SHA256)
	}
	m.SetActiveArchive(mgr.Hash(), string(mgr.Source()), time.Now())

	watcher := publish.NewWatcher(&publish.WatcherOptions{
		Logger:        L,
		Loader:        loader,
		Manager:       mgr,
		PollInterval:  conf.PollInterval,
		RequiredPaths: []string{"/WEB-INF/web.xml"},
		Metrics:       m,
		OnSwap: func(snap *publish.Snapshot) {
			m.SetActiveArchive(snap.SHA256, string(snap.Source), snap.LoadedAt)
		},
	})
	go func() { _ = watcher.Run(ctx) }()

	return servePreview(ctx, conf, mgr, m)
}

type snapshotLoader interface {
	Load(ctx context.Context) (*publish.Snapshot, error)
}

// loadInitial applies the same required-path check the watcher runs before
// every later swap.
func loadInitial(ctx context.Context, l snapshotLoader) (*publish.Snapshot, error) {
	snap, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := publish.CheckRequired(snap, requiredPaths); err != nil {
		return nil, fmt.Errorf("archive %s rejected: %w", snap.SHA256, err)
	}
	return snap, nil
}

func servePreview(ctx context.Context, conf cfg.App, mgr *publish.Manager, m *metrics.ServerMetrics) error {
	L := log.FromContext(ctx)

	var gate health.ShutdownGate
	stop, err := previewhttp.Start(ctx, &previewhttp.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		Archive:        mgr,
		Readiness:      gate.Probe(),
		MetricsHandler: m.Handler(),
		MetricsMW:      m.Middleware,
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
	})
	if err != nil {
		return err
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness first so probes stop routing here
	gate.Set("shutting down")
	time.Sleep(drainDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "preview server shutdown")
	}
	L.Info(context.Background(), "shutdown complete")
	return nil
}
